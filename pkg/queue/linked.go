// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package queue

import "math"

// LinkedQueue is the linked-list variant: entries are chained in strict
// priority order through a next map, bracketed by start and end sentinels so
// insertion never special-cases an empty list. Callers may pass a
// predecessor hint to Insert; a good hint makes insertion near O(1), a bad
// one only costs extra walking because the ordering is re-verified
// internally. Supports both polarities behind one flag.
type LinkedQueue struct {
	descending bool
	start      Key
	end        Key
	next       map[Key]Key
	entries    map[Key]Entry
}

// NewLinked creates an empty linked queue. Descending queues serve the
// marginal-price auction (highest price first); ascending queues serve the
// derivative-value variant (lowest value first).
func NewLinked(descending bool) *LinkedQueue {
	var start, end Key
	if descending {
		for i := range start.value {
			start.value[i] = 0xff
		}
		end.bidID = math.MaxUint64
	} else {
		for i := range end.value {
			end.value[i] = 0xff
		}
		end.bidID = math.MaxUint64
	}
	q := &LinkedQueue{
		descending: descending,
		start:      start,
		end:        end,
		next:       map[Key]Key{start: end},
		entries:    make(map[Key]Entry),
	}
	return q
}

// Start returns the start sentinel, always a valid insertion hint.
func (q *LinkedQueue) Start() Key {
	return q.start
}

// Contains reports whether a key is present.
func (q *LinkedQueue) Contains(k Key) bool {
	_, ok := q.entries[k]
	return ok
}

// ahead reports whether a is strictly higher priority than b.
func (q *LinkedQueue) ahead(a, b Key) bool {
	for i := 0; i < 32; i++ {
		if a.value[i] != b.value[i] {
			if q.descending {
				return a.value[i] > b.value[i]
			}
			return a.value[i] < b.value[i]
		}
	}
	return a.bidID < b.bidID
}

// Insert links the entry at its ordered position, walking forward from the
// hint. A zero hint means "walk from the head". The hint must be a node
// currently in the list (or the start sentinel) and must be strictly ahead
// of the new entry.
func (q *LinkedQueue) Insert(hint Key, e Entry) error {
	if err := validEntry(e); err != nil {
		return err
	}
	key := KeyFor(e.Value, e.BidID)
	if _, ok := q.entries[key]; ok {
		return ErrDuplicateKey
	}
	if hint.IsZero() {
		hint = q.start
	}
	if _, linked := q.next[hint]; !linked {
		return ErrInvalidHint
	}
	if !q.ahead(hint, key) {
		return ErrInvalidHint
	}

	cur := hint
	for q.ahead(q.next[cur], key) {
		cur = q.next[cur]
	}
	q.next[key] = q.next[cur]
	q.next[cur] = key
	q.entries[key] = e
	return nil
}

// DelExtreme unlinks and returns the head entry in O(1).
func (q *LinkedQueue) DelExtreme() (Entry, error) {
	head := q.next[q.start]
	if head == q.end {
		return Entry{}, ErrEmpty
	}
	q.next[q.start] = q.next[head]
	e := q.entries[head]
	delete(q.next, head)
	delete(q.entries, head)
	return e, nil
}

// PeekExtreme returns the head entry without removing it.
func (q *LinkedQueue) PeekExtreme() (Entry, error) {
	head := q.next[q.start]
	if head == q.end {
		return Entry{}, ErrEmpty
	}
	return q.entries[head], nil
}

// Len returns the number of queued entries.
func (q *LinkedQueue) Len() int {
	return len(q.entries)
}
