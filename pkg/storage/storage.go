// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package storage persists lot snapshots through luxfi's database interface,
// encoded with CBOR. The memory backend serves tests; badger serves the
// daemon.
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"

	"github.com/sealedbid/empa/auction"
)

var lotPrefix = []byte("lot/")

// Store wraps luxfi's database interface
type Store struct {
	db database.Database
}

// NewStore creates a new store using luxfi/database
func NewStore(dbType string, path string) (*Store, error) {
	var db database.Database
	var err error

	switch dbType {
	case "memory":
		db = memdb.New()
	case "badger":
		db, err = badgerdb.New(path, nil, "", nil)
		if err != nil {
			return nil, err
		}
	default:
		// Default to badger
		db, err = badgerdb.New(path, nil, "", nil)
		if err != nil {
			return nil, err
		}
	}

	return &Store{db: db}, nil
}

func lotKey(id uint64) []byte {
	key := make([]byte, len(lotPrefix)+8)
	copy(key, lotPrefix)
	binary.BigEndian.PutUint64(key[len(lotPrefix):], id)
	return key
}

// PutLot writes one lot snapshot.
func (s *Store) PutLot(snap *auction.LotSnapshot) error {
	raw, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode lot %d: %w", snap.ID, err)
	}
	return s.db.Put(lotKey(snap.ID), raw)
}

// GetLot reads one lot snapshot. Returns database.ErrNotFound when absent.
func (s *Store) GetLot(id uint64) (*auction.LotSnapshot, error) {
	raw, err := s.db.Get(lotKey(id))
	if err != nil {
		return nil, err
	}
	snap := new(auction.LotSnapshot)
	if err := cbor.Unmarshal(raw, snap); err != nil {
		return nil, fmt.Errorf("decode lot %d: %w", id, err)
	}
	return snap, nil
}

// HasLot checks whether a lot is stored.
func (s *Store) HasLot(id uint64) (bool, error) {
	return s.db.Has(lotKey(id))
}

// DeleteLot removes one lot snapshot.
func (s *Store) DeleteLot(id uint64) error {
	return s.db.Delete(lotKey(id))
}

// SaveHouse writes every lot of the house in one atomic batch.
func (s *Store) SaveHouse(h *auction.House) error {
	batch := s.db.NewBatch()
	for _, snap := range h.Snapshot() {
		raw, err := cbor.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode lot %d: %w", snap.ID, err)
		}
		if err := batch.Put(lotKey(snap.ID), raw); err != nil {
			return err
		}
	}
	return batch.Write()
}

// LoadHouse restores every stored lot into the given house.
func (s *Store) LoadHouse(h *auction.House) (int, error) {
	it := s.db.NewIteratorWithPrefix(lotPrefix)
	defer it.Release()

	n := 0
	for it.Next() {
		snap := new(auction.LotSnapshot)
		if err := cbor.Unmarshal(it.Value(), snap); err != nil {
			return n, fmt.Errorf("decode stored lot: %w", err)
		}
		if err := h.RestoreLot(snap); err != nil {
			return n, err
		}
		n++
	}
	return n, it.Error()
}

// LotIDs returns every stored lot id in ascending order.
func (s *Store) LotIDs() ([]uint64, error) {
	it := s.db.NewIteratorWithPrefix(lotPrefix)
	defer it.Release()

	var out []uint64
	for it.Next() {
		key := it.Key()
		if len(key) != len(lotPrefix)+8 {
			continue
		}
		out = append(out, binary.BigEndian.Uint64(key[len(lotPrefix):]))
	}
	return out, it.Error()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Compact compacts the underlying database
func (s *Store) Compact(start, limit []byte) error {
	return s.db.Compact(start, limit)
}
