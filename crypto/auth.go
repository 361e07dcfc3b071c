// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypto provides the ECDSA seller-authorization layer: lot control
// operations are signed with the seller's secp256k1 key and verified by
// recovering the signer address.
package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"

	luxcrypto "github.com/luxfi/crypto"

	"github.com/sealedbid/empa/pkg/ids"
)

var ErrBadSignature = errors.New("bad signature")

// GenerateKey creates a new secp256k1 key pair.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return luxcrypto.GenerateKey()
}

// PrivateKeyFromHex parses a hex-encoded secp256k1 private key.
func PrivateKeyFromHex(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return luxcrypto.ToECDSA(raw)
}

// AddressOf derives the 20-byte address of a public key, Ethereum style:
// the last 20 bytes of the keccak hash of the uncompressed key.
func AddressOf(pub *ecdsa.PublicKey) ids.Address {
	raw := luxcrypto.FromECDSAPub(pub)
	hash := luxcrypto.Keccak256(raw[1:])

	var a ids.Address
	copy(a[:], hash[12:])
	return a
}

// CancelPayload is the message a seller signs to cancel a lot.
func CancelPayload(lotID uint64) []byte {
	payload := make([]byte, 0, 16)
	payload = append(payload, []byte("empa:cancel:")...)
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], lotID)
	return append(payload, be[:]...)
}

// SignCancel produces a 65-byte recoverable signature over the cancel
// payload for lotID.
func SignCancel(priv *ecdsa.PrivateKey, lotID uint64) ([]byte, error) {
	hash := luxcrypto.Keccak256(CancelPayload(lotID))
	return luxcrypto.Sign(hash, priv)
}

// RecoverCancelSigner returns the address that signed the cancel payload.
func RecoverCancelSigner(lotID uint64, sig []byte) (ids.Address, error) {
	if len(sig) != 65 {
		return ids.Address{}, ErrBadSignature
	}
	hash := luxcrypto.Keccak256(CancelPayload(lotID))
	pub, err := luxcrypto.SigToPub(hash, sig)
	if err != nil {
		return ids.Address{}, err
	}
	return AddressOf(pub), nil
}
