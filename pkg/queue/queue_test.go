// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package queue

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func entry(bidID, value uint64) Entry {
	return Entry{
		BidID:    bidID,
		AmountIn: uint256.NewInt(1),
		Value:    uint256.NewInt(value),
	}
}

func TestSortedQueueOrder(t *testing.T) {
	require := require.New(t)

	q := NewSorted()
	require.NoError(q.Insert(entry(3, 100)))
	require.NoError(q.Insert(entry(1, 300)))
	require.NoError(q.Insert(entry(2, 200)))
	require.Equal(3, q.Len())

	e, err := q.PeekMax()
	require.NoError(err)
	require.Equal(uint64(1), e.BidID)

	var got []uint64
	for q.Len() > 0 {
		e, err := q.PopMax()
		require.NoError(err)
		got = append(got, e.BidID)
	}
	require.Equal([]uint64{1, 2, 3}, got)

	_, err = q.PopMax()
	require.ErrorIs(err, ErrEmpty)
}

func TestSortedQueueTieBreak(t *testing.T) {
	require := require.New(t)

	q := NewSorted()
	// Equal values: lower bid id wins priority
	require.NoError(q.Insert(entry(7, 500)))
	require.NoError(q.Insert(entry(2, 500)))
	require.NoError(q.Insert(entry(5, 500)))

	var got []uint64
	for q.Len() > 0 {
		e, _ := q.PopMax()
		got = append(got, e.BidID)
	}
	require.Equal([]uint64{2, 5, 7}, got)
}

func TestSortedQueueRejects(t *testing.T) {
	require := require.New(t)

	q := NewSorted()
	require.NoError(q.Insert(entry(1, 10)))
	require.ErrorIs(q.Insert(entry(1, 20)), ErrDuplicateKey)
	require.ErrorIs(q.Insert(entry(0, 10)), ErrInvalidEntry)
	require.ErrorIs(q.Insert(Entry{BidID: 2}), ErrInvalidEntry)
}

func TestLinkedQueueOrderDescending(t *testing.T) {
	require := require.New(t)

	q := NewLinked(true)
	ids := []uint64{5, 1, 4, 2, 3}
	values := []uint64{50, 900, 50, 700, 700}
	for i := range ids {
		require.NoError(q.Insert(Key{}, entry(ids[i], values[i])))
	}
	require.Equal(5, q.Len())

	// value desc, then lower bid id on ties
	want := []uint64{1, 2, 3, 4, 5}
	var got []uint64
	for q.Len() > 0 {
		e, err := q.DelExtreme()
		require.NoError(err)
		got = append(got, e.BidID)
	}
	require.Equal(want, got)
}

func TestLinkedQueueOrderAscending(t *testing.T) {
	require := require.New(t)

	q := NewLinked(false)
	require.NoError(q.Insert(Key{}, entry(1, 30)))
	require.NoError(q.Insert(Key{}, entry(2, 10)))
	require.NoError(q.Insert(Key{}, entry(3, 20)))
	require.NoError(q.Insert(Key{}, entry(4, 10)))

	var got []uint64
	for q.Len() > 0 {
		e, err := q.DelExtreme()
		require.NoError(err)
		got = append(got, e.BidID)
	}
	require.Equal([]uint64{2, 4, 3, 1}, got)
}

func TestLinkedQueueHints(t *testing.T) {
	require := require.New(t)

	q := NewLinked(true)
	require.NoError(q.Insert(q.Start(), entry(1, 500)))
	require.NoError(q.Insert(q.Start(), entry(2, 300)))

	// Accurate hint: predecessor of the slot being filled
	hint := KeyFor(uint256.NewInt(500), 1)
	require.NoError(q.Insert(hint, entry(3, 400)))

	// Hint not in the list
	ghost := KeyFor(uint256.NewInt(450), 9)
	require.ErrorIs(q.Insert(ghost, entry(4, 350)), ErrInvalidHint)

	// Hint lower priority than the new entry
	low := KeyFor(uint256.NewInt(300), 2)
	require.ErrorIs(q.Insert(low, entry(5, 600)), ErrInvalidHint)

	// Duplicate (value, bidID) pair
	require.ErrorIs(q.Insert(q.Start(), entry(3, 400)), ErrDuplicateKey)

	var got []uint64
	for q.Len() > 0 {
		e, _ := q.DelExtreme()
		got = append(got, e.BidID)
	}
	require.Equal([]uint64{1, 3, 2}, got)
}

func TestLinkedQueuePeekAndEmpty(t *testing.T) {
	require := require.New(t)

	q := NewLinked(true)
	_, err := q.PeekExtreme()
	require.ErrorIs(err, ErrEmpty)
	_, err = q.DelExtreme()
	require.ErrorIs(err, ErrEmpty)

	require.NoError(q.Insert(Key{}, entry(1, 5)))
	e, err := q.PeekExtreme()
	require.NoError(err)
	require.Equal(uint64(1), e.BidID)
	require.Equal(1, q.Len())
}

func TestVariantsAgreeOnRandomInput(t *testing.T) {
	require := require.New(t)

	rng := rand.New(rand.NewSource(7))
	sorted := NewSorted()
	linked := NewLinked(true)

	for bidID := uint64(1); bidID <= 200; bidID++ {
		value := uint64(rng.Intn(50)) // force plenty of ties
		require.NoError(sorted.Insert(entry(bidID, value)))
		require.NoError(linked.Insert(Key{}, entry(bidID, value)))
	}

	for sorted.Len() > 0 {
		a, err := sorted.PopMax()
		require.NoError(err)
		b, err := linked.DelExtreme()
		require.NoError(err)
		require.Equal(a.BidID, b.BidID)
		require.Equal(a.Value.String(), b.Value.String())
	}
	require.Equal(0, linked.Len())
}
