// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// empa-keygen is the offline companion for sealed bids: it generates lot
// encryption key pairs, seals a bid value for submission, and opens a
// ciphertext once the private key is known.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/holiman/uint256"

	"github.com/sealedbid/empa/auction"
	"github.com/sealedbid/empa/pkg/ecies"
	"github.com/sealedbid/empa/pkg/ids"
)

var (
	seal = flag.Bool("seal", false, "Seal a bid value under a lot public key")
	open = flag.Bool("open", false, "Open a sealed bid with the lot private key")

	value  = flag.String("value", "", "Bid value to seal (decimal)")
	pubX   = flag.String("pub-x", "", "Lot public key X (hex)")
	pubY   = flag.String("pub-y", "", "Lot public key Y (hex)")
	priv   = flag.String("priv", "", "Lot private key (hex)")
	ct     = flag.String("ciphertext", "", "Sealed value (hex, 32 bytes)")
	ephX   = flag.String("eph-x", "", "Ephemeral key X (hex)")
	ephY   = flag.String("eph-y", "", "Ephemeral key Y (hex)")
	lotID  = flag.Uint64("lot", 0, "Lot id (salt input)")
	bidder = flag.String("bidder", "", "Bidder address (salt input)")
	amount = flag.String("amount", "", "Amount tendered (decimal, salt input)")
)

func main() {
	flag.Parse()

	switch {
	case *seal:
		runSeal()
	case *open:
		runOpen()
	default:
		runGenerate()
	}
}

func runGenerate() {
	key, pub, err := ecies.GenerateKeyPair()
	if err != nil {
		fatal(err)
	}
	emit(map[string]string{
		"private_key": fmt.Sprintf("0x%064x", key),
		"public_x":    pub.X.Hex(),
		"public_y":    pub.Y.Hex(),
	})
}

func runSeal() {
	v, err := uint256.FromDecimal(*value)
	if err != nil {
		fatal(fmt.Errorf("value: %w", err))
	}
	pub, err := parsePoint(*pubX, *pubY)
	if err != nil {
		fatal(err)
	}
	salt, err := salt()
	if err != nil {
		fatal(err)
	}

	sealed, eph, err := ecies.Encrypt(v, pub, salt)
	if err != nil {
		fatal(err)
	}
	emit(map[string]string{
		"ciphertext":  "0x" + hex.EncodeToString(sealed[:]),
		"ephemeral_x": eph.X.Hex(),
		"ephemeral_y": eph.Y.Hex(),
	})
}

func runOpen() {
	raw, err := hex.DecodeString(strings.TrimPrefix(*ct, "0x"))
	if err != nil || len(raw) != 32 {
		fatal(fmt.Errorf("ciphertext must be 32 bytes of hex"))
	}
	var sealed [32]byte
	copy(sealed[:], raw)

	eph, err := parsePoint(*ephX, *ephY)
	if err != nil {
		fatal(err)
	}
	keyRaw, err := hex.DecodeString(strings.TrimPrefix(*priv, "0x"))
	if err != nil {
		fatal(fmt.Errorf("priv: %w", err))
	}
	salt, err := salt()
	if err != nil {
		fatal(err)
	}

	v, err := ecies.Decrypt(sealed, eph, new(big.Int).SetBytes(keyRaw), salt)
	if err != nil {
		fatal(err)
	}
	emit(map[string]string{"value": v.Dec()})
}

func salt() ([32]byte, error) {
	addr, err := ids.AddressFromString(*bidder)
	if err != nil {
		return [32]byte{}, fmt.Errorf("bidder: %w", err)
	}
	amt, err := uint256.FromDecimal(*amount)
	if err != nil {
		return [32]byte{}, fmt.Errorf("amount: %w", err)
	}
	return auction.BidSalt(*lotID, addr, amt), nil
}

func parsePoint(x, y string) (ecies.Point, error) {
	px, err := uint256.FromHex(x)
	if err != nil {
		return ecies.Point{}, fmt.Errorf("point x: %w", err)
	}
	py, err := uint256.FromHex(y)
	if err != nil {
		return ecies.Point{}, fmt.Errorf("point y: %w", err)
	}
	return ecies.Point{X: px, Y: py}, nil
}

func emit(v any) {
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
