package ids

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address identifies a bidder, recipient, or seller account
type Address [20]byte

// EmptyAddress is the zero address
var EmptyAddress = Address{}

// String returns the 0x-prefixed hex representation of the address
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Bytes returns the byte representation of the address
func (a Address) Bytes() []byte {
	return a[:]
}

// IsEmpty reports whether the address is the zero address
func (a Address) IsEmpty() bool {
	return a == EmptyAddress
}

// AddressFromString parses a hex address with or without a 0x prefix
func AddressFromString(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(s, "0x")
	bytes, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(bytes) != 20 {
		return a, fmt.Errorf("invalid address length: expected 20, got %d", len(bytes))
	}
	copy(a[:], bytes)
	return a, nil
}

// GenerateTestAddress creates a random address for testing
func GenerateTestAddress() Address {
	var a Address
	id := GenerateTestID()
	copy(a[:], id[:20])
	return a
}
