// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ecies

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestKeyPairDerivation(t *testing.T) {
	require := require.New(t)

	priv, pub, err := GenerateKeyPair()
	require.NoError(err)
	require.True(pub.IsValid())
	require.NoError(VerifyKeyPair(priv, pub))

	// A different key must not verify
	other, _, err := GenerateKeyPair()
	require.NoError(err)
	require.ErrorIs(VerifyKeyPair(other, pub), ErrKeyMismatch)
}

func TestDerivePublicKeyRejectsBadScalars(t *testing.T) {
	require := require.New(t)

	_, err := DerivePublicKey(nil)
	require.ErrorIs(err, ErrInvalidScalar)

	_, err = DerivePublicKey(big.NewInt(0))
	require.ErrorIs(err, ErrInvalidScalar)

	_, err = DerivePublicKey(big.NewInt(-3))
	require.ErrorIs(err, ErrInvalidScalar)
}

func TestPointValidation(t *testing.T) {
	require := require.New(t)

	_, pub, err := GenerateKeyPair()
	require.NoError(err)
	require.True(pub.IsValid())

	// Generator with a corrupted coordinate fails the curve equation
	bad := Point{X: new(uint256.Int).Set(pub.X), Y: new(uint256.Int).AddUint64(pub.Y, 1)}
	require.False(bad.IsValid())

	// Point at infinity is rejected
	inf := Point{X: uint256.NewInt(0), Y: uint256.NewInt(0)}
	require.False(inf.IsValid())

	// Nil coordinates are rejected
	require.False(Point{}.IsValid())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	require := require.New(t)

	priv, pub, err := GenerateKeyPair()
	require.NoError(err)

	salt := [32]byte{0x01, 0x02, 0x03}

	values := []*uint256.Int{
		uint256.NewInt(0),
		uint256.NewInt(1),
		uint256.NewInt(5_000_000_000_000_000_000),
		uint256.MustFromHex("0xffffffffffffffffffffffffffffffff"), // 2^128-1
	}

	for _, value := range values {
		ct, eph, err := Encrypt(value, pub, salt)
		require.NoError(err)
		require.True(eph.IsValid())

		got, err := Decrypt(ct, eph, priv, salt)
		require.NoError(err)
		require.Equal(value.String(), got.String())
	}
}

func TestEncryptRejectsOversizedValue(t *testing.T) {
	require := require.New(t)

	_, pub, err := GenerateKeyPair()
	require.NoError(err)

	too := uint256.MustFromHex("0x100000000000000000000000000000000") // 2^128
	_, _, err = Encrypt(too, pub, [32]byte{})
	require.ErrorIs(err, ErrValueTooLarge)
}

func TestDecryptWithWrongSaltScrambles(t *testing.T) {
	require := require.New(t)

	priv, pub, err := GenerateKeyPair()
	require.NoError(err)

	value := uint256.NewInt(1234567)
	salt := [32]byte{0xaa}
	ct, eph, err := Encrypt(value, pub, salt)
	require.NoError(err)

	wrongSalt := [32]byte{0xbb}
	got, err := Decrypt(ct, eph, priv, wrongSalt)
	require.NoError(err)
	require.NotEqual(value.String(), got.String())
}

func TestDecryptWithWrongKeyScrambles(t *testing.T) {
	require := require.New(t)

	priv, pub, err := GenerateKeyPair()
	require.NoError(err)
	other, _, err := GenerateKeyPair()
	require.NoError(err)
	require.NotEqual(priv.String(), other.String())

	value := uint256.NewInt(42)
	salt := [32]byte{0x07}
	ct, eph, err := Encrypt(value, pub, salt)
	require.NoError(err)

	got, err := Decrypt(ct, eph, other, salt)
	require.NoError(err)
	require.NotEqual(value.String(), got.String())
}
