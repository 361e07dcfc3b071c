// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package queue

import "sort"

// SortedQueue is the array-backed variant: entries are kept in priority
// order by insertion sort, highest priority at index 0.
type SortedQueue struct {
	entries []Entry
	present map[uint64]struct{}
}

// NewSorted creates an empty array-backed max queue.
func NewSorted() *SortedQueue {
	return &SortedQueue{present: make(map[uint64]struct{})}
}

// Insert places the entry at its ordered position in O(n).
func (q *SortedQueue) Insert(e Entry) error {
	if err := validEntry(e); err != nil {
		return err
	}
	if _, ok := q.present[e.BidID]; ok {
		return ErrDuplicateKey
	}
	key := KeyFor(e.Value, e.BidID)
	idx := sort.Search(len(q.entries), func(i int) bool {
		cur := KeyFor(q.entries[i].Value, q.entries[i].BidID)
		return compareKeys(key, cur) > 0
	})
	q.entries = append(q.entries, Entry{})
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = e
	q.present[e.BidID] = struct{}{}
	return nil
}

// PopMax removes and returns the highest-priority entry.
func (q *SortedQueue) PopMax() (Entry, error) {
	if len(q.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	delete(q.present, e.BidID)
	return e, nil
}

// PeekMax returns the highest-priority entry without removing it.
func (q *SortedQueue) PeekMax() (Entry, error) {
	if len(q.entries) == 0 {
		return Entry{}, ErrEmpty
	}
	return q.entries[0], nil
}

// Len returns the number of queued entries.
func (q *SortedQueue) Len() int {
	return len(q.entries)
}
