package sanitizer

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/privacyrpc/gateway/internal/jsonrpc"
)

// ethCallParam mirrors the transaction-call object accepted as the first
// parameter of eth_call; every other field is ignored.
type ethCallParam struct {
	To   string         `json:"to"`
	Data *hexutil.Bytes `json:"data"`
}

// GetEthCallData extracts the calldata of an eth_call's first parameter, if
// present and well-formed.
func GetEthCallData(req jsonrpc.Request) ([]byte, bool) {
	var params []json.RawMessage
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, false
	}
	if len(params) == 0 {
		return nil, false
	}
	var p ethCallParam
	if err := json.Unmarshal(params[0], &p); err != nil {
		return nil, false
	}
	if p.Data == nil {
		return nil, false
	}
	return *p.Data, true
}
