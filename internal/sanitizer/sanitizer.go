// Package sanitizer classifies and rewrites incoming JSON-RPC requests to
// redact user-identifying relationships and metadata, and rewrites upstream
// batch responses back into the single result a client expects.
package sanitizer

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/privacyrpc/gateway/internal/abi"
	"github.com/privacyrpc/gateway/internal/jsonrpc"
)

// balancesSelector is the 4-byte signature of balances(address[],address[]).
// https://www.4byte.directory/signatures/?bytes4_signature=0xf0002ea9
var balancesSelector = []byte{0xf0, 0x00, 0x2e, 0xa9}

// SanitizedRequest carries the original client id(s), the possibly-rewritten
// request body, and the ordered list of transforms applied to it.
type SanitizedRequest struct {
	OriginalIDs jsonrpc.Batchable[jsonrpc.Id]
	ReqBody     jsonrpc.Batchable[jsonrpc.Request]
	Transforms  []Transform
}

// New builds a SanitizedRequest from a parsed request body, capturing the
// original id(s) before any rewrite can touch them.
func New(reqBody jsonrpc.Batchable[jsonrpc.Request]) SanitizedRequest {
	var ids jsonrpc.Batchable[jsonrpc.Id]
	if reqBody.IsBatch() {
		items := reqBody.Items()
		out := make([]jsonrpc.Id, len(items))
		for i, v := range items {
			out[i] = v.ID
		}
		ids = jsonrpc.Batch(out)
	} else if v, ok := reqBody.AsSingle(); ok {
		ids = jsonrpc.Single(v.ID)
	}
	return SanitizedRequest{OriginalIDs: ids, ReqBody: reqBody}
}

// ProtectAccountRelationship rewrites a single eth_call to the native-token
// balances(address[],address[]) aggregation into a batch of per-account
// eth_getBalance calls, recording an AccountRelationship transform. Any
// failure to match or decode the call leaves sr unchanged.
func ProtectAccountRelationship(sr SanitizedRequest) SanitizedRequest {
	req, ok := sr.ReqBody.AsSingle()
	if !ok || req.Method != "eth_call" {
		return sr
	}

	calldata, ok := GetEthCallData(req)
	if !ok || !abi.SelectorMatches(calldata, balancesSelector) {
		return sr
	}
	data := calldata[4:]

	users, ok := decodeDynamicAddressArray(data, 0)
	if !ok {
		log.Warn().Msg("protect_account_relationship abort: users")
		return sr
	}
	tokens, ok := decodeDynamicAddressArray(data, abi.WordSize)
	if !ok {
		log.Warn().Msg("protect_account_relationship abort: tokens")
		return sr
	}

	if len(tokens) == 0 || tokens[0] != (common.Address{}) {
		log.Warn().Msg("protect_account_relationship abort: contains non-native-token address")
		return sr
	}

	accounts := make([]string, len(users))
	for i, u := range users {
		accounts[i] = u.Hex()
	}

	reqs := make([]jsonrpc.Request, len(accounts))
	for i, acct := range accounts {
		params := []interface{}{acct, "latest"}
		built, err := jsonrpc.NewRequest(i, "eth_getBalance", params)
		if err != nil {
			log.Error().Err(err).Msg("protect_account_relationship: build sub-request")
			return sr
		}
		reqs[i] = built
	}

	now := nowUTC()
	protected := make([]AccountRelationship, len(accounts))
	for i, acct := range accounts {
		protected[i] = AccountRelationship{
			Accounts: []string{acct},
			Method:   "eth_getBalance",
			Params:   []string{},
			Time:     now,
		}
	}
	transform := NewAccountRelationshipTransform(AccountRelationshipTransform{
		Protected: protected,
		Unprotected: AccountRelationship{
			Accounts: accounts,
			Method:   "eth_call",
			Params:   []string{"0xf0002ea9", "latest"},
			Time:     now,
		},
	})

	return SanitizedRequest{
		OriginalIDs: sr.OriginalIDs,
		ReqBody:     jsonrpc.Batch(reqs),
		Transforms:  append(append([]Transform{}, sr.Transforms...), transform),
	}
}

// decodeDynamicAddressArray reads a 32-byte offset word at byte offsetAt
// within data, then decodes the address[] located at that offset. Reports
// ok=false if either word is out of bounds.
func decodeDynamicAddressArray(data []byte, offsetAt int) ([]common.Address, bool) {
	if offsetAt+abi.WordSize > len(data) {
		return nil, false
	}
	word, ok := abi.DecodeUint256(data[offsetAt:])
	if !ok {
		return nil, false
	}
	offset := word.Uint64()
	if offset > uint64(len(data)) || uint64(len(data))-offset < abi.WordSize {
		return nil, false
	}
	return abi.DecodeAddressArray(data[offset:]), true
}

// ProtectMetadata always appends a Metadata transform for HTTP requests,
// substituting the gateway's own address and a fixed user agent for the
// client's real values in the protected view.
func ProtectMetadata(sr SanitizedRequest, r *http.Request) SanitizedRequest {
	now := nowUTC()
	transform := NewMetadataTransform(MetadataTransform{
		Protected: Metadata{
			IP:   HostIP(r),
			UA:   ProtectedUserAgent,
			Time: now,
		},
		Unprotected: Metadata{
			IP:   ClientIP(r),
			UA:   ClientUA(r),
			Time: now,
		},
	})
	return SanitizedRequest{
		OriginalIDs: sr.OriginalIDs,
		ReqBody:     sr.ReqBody,
		Transforms:  append(append([]Transform{}, sr.Transforms...), transform),
	}
}

// ProtectedUserAgentOverride returns the User-Agent that should override the
// outbound request's header, if a Metadata transform is present.
func (sr SanitizedRequest) ProtectedUserAgentOverride() (string, bool) {
	for _, tr := range sr.Transforms {
		if tr.IsMetadata() {
			return tr.Metadata.Protected.UA, true
		}
	}
	return "", false
}

func (sr SanitizedRequest) hasAccountRelationship() bool {
	for _, tr := range sr.Transforms {
		if tr.IsAccountRelationship() {
			return true
		}
	}
	return false
}

// RewriteResponse applies the inverse of ProtectAccountRelationship to an
// upstream response, collapsing a batch of eth_getBalance results back into
// a single ABI-encoded uint256[] result. Responses with no account
// relationship transform are returned verbatim.
func (sr SanitizedRequest) RewriteResponse(resp jsonrpc.Batchable[jsonrpc.Response]) jsonrpc.Batchable[jsonrpc.Response] {
	if !sr.hasAccountRelationship() {
		return resp
	}
	return jsonrpc.Single(sr.rewriteAccountRelationshipResponse(resp))
}

func (sr SanitizedRequest) rewriteAccountRelationshipResponse(resp jsonrpc.Batchable[jsonrpc.Response]) jsonrpc.Response {
	unknownErr := jsonrpc.NewErrorResponse(jsonrpc.UnknownError("unknown error"), nil)

	if !resp.IsBatch() {
		log.Error().Msg("protect_account_error: remote_response not batch")
		return unknownErr
	}
	items := resp.Items()

	reqItems := sr.ReqBody.Items()
	if len(reqItems) != len(items) {
		log.Error().Int("req_len", len(reqItems)).Int("resp_len", len(items)).
			Msg("protect_account_error: req.len != resp.len")
		return unknownErr
	}

	balances := make([]*uint256.Int, 0, len(items))
	for _, r := range items {
		if !r.Ok() {
			log.Error().Interface("error", r.Error).Msg("protect_account_error: remote_response contains error")
			return unknownErr
		}
		var hexStr string
		if err := json.Unmarshal(r.Result, &hexStr); err != nil {
			log.Error().Err(err).Msg("protected_account_error: deser jsonrpc")
			return unknownErr
		}
		v, err := uint256.FromHex(hexStr)
		if err != nil {
			log.Error().Err(err).Msg("protected_account_error: deser jsonrpc")
			return unknownErr
		}
		balances = append(balances, v)
	}

	encoded := abi.EncodeUint256Array(balances)
	hexResult := hexutil.Encode(encoded)
	resultRaw, err := json.Marshal(hexResult)
	if err != nil {
		log.Error().Err(err).Msg("protect_account_error: marshal result")
		return unknownErr
	}

	id := firstOriginalID(sr.OriginalIDs)
	return jsonrpc.Response{
		JSONRPC: "2.0",
		Result:  resultRaw,
		ID:      id,
	}
}

func firstOriginalID(ids jsonrpc.Batchable[jsonrpc.Id]) *jsonrpc.Id {
	if v, ok := ids.AsSingle(); ok {
		return &v
	}
	items := ids.Items()
	if len(items) == 0 {
		return nil
	}
	return &items[0]
}
