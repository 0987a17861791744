// Package abi implements the narrow slice of EVM ABI encoding this gateway
// needs: 4-byte selector matching, uint256 words, and dynamic address/uint256
// arrays. It is not a general-purpose ABI library.
package abi

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const WordSize = 32

// SelectorMatches reports whether the first 4 bytes of data equal sig.
func SelectorMatches(data, sig []byte) bool {
	if len(data) < 4 || len(sig) != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		if data[i] != sig[i] {
			return false
		}
	}
	return true
}

// DecodeUint256 reads the first 32-byte word of data as a big-endian uint256.
// Reports ok=false if data is empty.
func DecodeUint256(data []byte) (*uint256.Int, bool) {
	if len(data) == 0 {
		return nil, false
	}
	word := data
	if len(word) > WordSize {
		word = word[:WordSize]
	}
	v := new(uint256.Int)
	v.SetBytes(word)
	return v, true
}

// DecodeAddressArray decodes a dynamic address[] at the start of data: the
// first word is the element count n, followed by n words each holding an
// address in the low 20 bytes. If data is shorter than 1+n words, the
// returned slice is the truncated prefix (tolerant decoding).
func DecodeAddressArray(data []byte) []common.Address {
	if len(data) < WordSize {
		return nil
	}
	count := new(uint256.Int).SetBytes(data[:WordSize])
	n := count.Uint64()

	rest := data[WordSize:]
	maxElems := uint64(len(rest)) / WordSize
	if n > maxElems {
		n = maxElems
	}

	out := make([]common.Address, 0, n)
	for i := uint64(0); i < n; i++ {
		word := rest[i*WordSize : (i+1)*WordSize]
		out = append(out, common.BytesToAddress(word[12:]))
	}
	return out
}

// EncodeUint256Array ABI-encodes vs as a dynamic uint256[]: a 32-byte offset
// word (always 32, since this is the sole returned value), a 32-byte length
// word, then one 32-byte big-endian word per element.
func EncodeUint256Array(vs []*uint256.Int) []byte {
	out := make([]byte, 0, WordSize*(2+len(vs)))

	offset := uint256.NewInt(WordSize).Bytes32()
	out = append(out, offset[:]...)

	length := uint256.NewInt(uint64(len(vs))).Bytes32()
	out = append(out, length[:]...)

	for _, v := range vs {
		word := v.Bytes32()
		out = append(out, word[:]...)
	}
	return out
}
