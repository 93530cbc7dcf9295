// Package wallet validates and normalizes Ethereum-style wallet addresses.
package wallet

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

var ErrInvalidAddress = errors.New("invalid wallet address")

// Normalize checks that addr is a 0x-prefixed 20-byte hex address and
// returns it in EIP-55 mixed-case checksum form. Mixed-case input must
// already carry a valid checksum; all-lower or all-upper input is accepted
// as is.
func Normalize(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if len(addr) != 42 || (addr[:2] != "0x" && addr[:2] != "0X") {
		return "", ErrInvalidAddress
	}
	body := addr[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", ErrInvalidAddress
	}

	sum := Checksum(body)
	if isMixedCase(body) && sum[2:] != body {
		return "", ErrInvalidAddress
	}
	return sum, nil
}

// Checksum applies EIP-55 casing to a 40-character hex string.
func Checksum(hexAddr string) string {
	lower := strings.ToLower(strings.TrimPrefix(hexAddr, "0x"))

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := make([]byte, len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if c >= 'a' && c <= 'f' && nibble >= 8 {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out)
}

func isMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}
