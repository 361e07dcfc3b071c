// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package queue provides the priority structures that rank decrypted bids
// for settlement. Two interchangeable implementations exist: an
// insertion-sorted array and a hint-accepting linked list. Both enforce the
// same total order: value first, then lower bid id on ties, so no two
// entries ever compare equal.
package queue

import (
	"errors"
	"math"

	"github.com/holiman/uint256"
)

var (
	ErrEmpty        = errors.New("queue is empty")
	ErrDuplicateKey = errors.New("entry already in queue")
	ErrInvalidHint  = errors.New("hint is not a valid predecessor")
	ErrInvalidEntry = errors.New("entry outside supported range")
)

// maxValue bounds entry values; sealed values are 128-bit by construction,
// which leaves room for the sentinel encodings above and below.
var maxValue = uint256.MustFromHex("0xffffffffffffffffffffffffffffffff")

// Entry is one decrypted bid awaiting settlement.
type Entry struct {
	BidID    uint64
	AmountIn *uint256.Int
	Value    *uint256.Int
}

// Key identifies an entry by its (value, bidID) pair. The zero Key is
// reserved as the "no hint" marker accepted by LinkedQueue.Insert.
type Key struct {
	value [32]byte
	bidID uint64
}

// KeyFor builds the key for a (value, bidID) pair.
func KeyFor(value *uint256.Int, bidID uint64) Key {
	return Key{value: value.Bytes32(), bidID: bidID}
}

// Value returns the key's value component.
func (k Key) Value() *uint256.Int {
	return new(uint256.Int).SetBytes(k.value[:])
}

// BidID returns the key's bid id component.
func (k Key) BidID() uint64 {
	return k.bidID
}

// IsZero reports whether this is the "no hint" marker.
func (k Key) IsZero() bool {
	return k == Key{}
}

func validEntry(e Entry) error {
	if e.Value == nil || e.AmountIn == nil {
		return ErrInvalidEntry
	}
	if e.Value.Gt(maxValue) {
		return ErrInvalidEntry
	}
	if e.BidID == 0 || e.BidID == math.MaxUint64 {
		return ErrInvalidEntry
	}
	return nil
}

// compareKeys orders two keys for a descending (max-first) queue: positive
// when a is strictly ahead of b. Byte comparison of the fixed-width value
// matches numeric comparison; lower bid id wins all value ties.
func compareKeys(a, b Key) int {
	for i := 0; i < 32; i++ {
		if a.value[i] != b.value[i] {
			if a.value[i] > b.value[i] {
				return 1
			}
			return -1
		}
	}
	if a.bidID != b.bidID {
		if a.bidID < b.bidID {
			return 1
		}
		return -1
	}
	return 0
}
