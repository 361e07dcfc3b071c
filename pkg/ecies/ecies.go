// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ecies implements the elliptic-curve encryption scheme used to seal
// bid values until an auction's private key is revealed. Values are encrypted
// under the auction public key on the BN254 curve: a random 128-bit seed masks
// the value with wrapping subtraction, the seed/masked pair is XORed with a
// keccak256-derived keystream, and the bidder's ephemeral public key travels
// with the ciphertext so the key holder can recompute the shared secret.
package ecies

import (
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidPoint  = errors.New("point is not on the curve")
	ErrInvalidScalar = errors.New("scalar is not a valid private key")
	ErrValueTooLarge = errors.New("value does not fit in 128 bits")
	ErrKeyMismatch   = errors.New("private key does not match public key")
)

// mask128 selects the low 128 bits of a word. Seed/value recombination is
// deliberately wrapping arithmetic over 2^128.
var mask128 = uint256.MustFromHex("0xffffffffffffffffffffffffffffffff")

// Point is an affine point on BN254, the curve the auction key pairs live on.
type Point struct {
	X *uint256.Int `json:"x"`
	Y *uint256.Int `json:"y"`
}

// IsValid reports whether the point is on the curve. The point at infinity
// and coordinates outside the base field are rejected.
func (p Point) IsValid() bool {
	aff, err := p.affine()
	if err != nil {
		return false
	}
	return !aff.IsInfinity() && aff.IsOnCurve()
}

// Equal reports whether two points have identical coordinates.
func (p Point) Equal(o Point) bool {
	if p.X == nil || p.Y == nil || o.X == nil || o.Y == nil {
		return false
	}
	return p.X.Eq(o.X) && p.Y.Eq(o.Y)
}

// affine converts to gnark's representation, rejecting coordinates that are
// not reduced members of the base field.
func (p Point) affine() (bn254.G1Affine, error) {
	var aff bn254.G1Affine
	if p.X == nil || p.Y == nil {
		return aff, ErrInvalidPoint
	}
	mod := fp.Modulus()
	x := p.X.ToBig()
	y := p.Y.ToBig()
	if x.Cmp(mod) >= 0 || y.Cmp(mod) >= 0 {
		return aff, ErrInvalidPoint
	}
	aff.X.SetBigInt(x)
	aff.Y.SetBigInt(y)
	return aff, nil
}

func fromAffine(aff bn254.G1Affine) Point {
	xb := aff.X.Bytes()
	yb := aff.Y.Bytes()
	return Point{
		X: new(uint256.Int).SetBytes(xb[:]),
		Y: new(uint256.Int).SetBytes(yb[:]),
	}
}

// GenerateKeyPair creates a fresh auction key pair.
func GenerateKeyPair() (*big.Int, Point, error) {
	var k fr.Element
	if _, err := k.SetRandom(); err != nil {
		return nil, Point{}, err
	}
	priv := new(big.Int)
	k.BigInt(priv)
	pub, err := DerivePublicKey(priv)
	if err != nil {
		return nil, Point{}, err
	}
	return priv, pub, nil
}

// DerivePublicKey multiplies the generator by the private scalar. Used both
// for key generation and to verify that a revealed private key reproduces a
// lot's recorded public key before any decrypted value is trusted.
func DerivePublicKey(priv *big.Int) (Point, error) {
	if priv == nil || priv.Sign() <= 0 || priv.Cmp(fr.Modulus()) >= 0 {
		return Point{}, ErrInvalidScalar
	}
	_, _, g1, _ := bn254.Generators()
	var pub bn254.G1Affine
	pub.ScalarMultiplication(&g1, priv)
	return fromAffine(pub), nil
}

// VerifyKeyPair checks that priv reproduces pub.
func VerifyKeyPair(priv *big.Int, pub Point) error {
	derived, err := DerivePublicKey(priv)
	if err != nil {
		return err
	}
	if !derived.Equal(pub) {
		return ErrKeyMismatch
	}
	return nil
}

// Encrypt seals a value (< 2^128) under the auction public key. The salt
// binds the ciphertext to its context so it cannot be replayed on another
// bid. Returns the 32-byte ciphertext word and the ephemeral public key the
// decryptor needs to recompute the shared secret.
func Encrypt(value *uint256.Int, auctionPub Point, salt [32]byte) ([32]byte, Point, error) {
	var ct [32]byte
	if value == nil || value.Gt(mask128) {
		return ct, Point{}, ErrValueTooLarge
	}
	pubAff, err := auctionPub.affine()
	if err != nil {
		return ct, Point{}, err
	}
	if pubAff.IsInfinity() || !pubAff.IsOnCurve() {
		return ct, Point{}, ErrInvalidPoint
	}

	// Random 128-bit seed masks the value; wrapping subtraction means the
	// masked half leaks nothing about the value's magnitude.
	var seedBytes [16]byte
	if _, err := rand.Read(seedBytes[:]); err != nil {
		return ct, Point{}, err
	}
	seed := new(uint256.Int).SetBytes(seedBytes[:])
	masked := new(uint256.Int).Sub(seed, value)
	masked.And(masked, mask128)

	var ephKey fr.Element
	if _, err := ephKey.SetRandom(); err != nil {
		return ct, Point{}, err
	}
	ephPriv := new(big.Int)
	ephKey.BigInt(ephPriv)

	_, _, g1, _ := bn254.Generators()
	var ephPub, shared bn254.G1Affine
	ephPub.ScalarMultiplication(&g1, ephPriv)
	shared.ScalarMultiplication(&pubAff, ephPriv)

	plaintext := packWord(seed, masked)
	keystream := symmetricKey(&shared, salt)
	for i := range ct {
		ct[i] = plaintext[i] ^ keystream[i]
	}
	return ct, fromAffine(ephPub), nil
}

// Decrypt recovers the sealed value. The shared secret is the private key's
// scalar multiple of the bidder's ephemeral public key; the same salt used at
// encryption time must be supplied.
func Decrypt(ciphertext [32]byte, ephemeral Point, priv *big.Int, salt [32]byte) (*uint256.Int, error) {
	if priv == nil || priv.Sign() <= 0 || priv.Cmp(fr.Modulus()) >= 0 {
		return nil, ErrInvalidScalar
	}
	ephAff, err := ephemeral.affine()
	if err != nil {
		return nil, err
	}
	if ephAff.IsInfinity() || !ephAff.IsOnCurve() {
		return nil, ErrInvalidPoint
	}

	var shared bn254.G1Affine
	shared.ScalarMultiplication(&ephAff, priv)

	keystream := symmetricKey(&shared, salt)
	var plaintext [32]byte
	for i := range plaintext {
		plaintext[i] = ciphertext[i] ^ keystream[i]
	}

	seed := new(uint256.Int).SetBytes(plaintext[:16])
	masked := new(uint256.Int).SetBytes(plaintext[16:])

	// value = seed - masked over 2^128; underflow wraps on purpose.
	value := new(uint256.Int).Sub(seed, masked)
	value.And(value, mask128)
	return value, nil
}

// symmetricKey derives the XOR keystream as keccak256(sharedSecretX || salt).
func symmetricKey(shared *bn254.G1Affine, salt [32]byte) [32]byte {
	xb := shared.X.Bytes()
	h := sha3.NewLegacyKeccak256()
	h.Write(xb[:])
	h.Write(salt[:])
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// packWord concatenates two 128-bit halves big-endian into one word.
func packWord(hi, lo *uint256.Int) [32]byte {
	var out [32]byte
	hb := hi.Bytes32()
	lb := lo.Bytes32()
	copy(out[:16], hb[16:])
	copy(out[16:], lb[16:])
	return out
}
