// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package auction

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/sealedbid/empa/pkg/ecies"
	"github.com/sealedbid/empa/pkg/ids"
	"github.com/sealedbid/empa/pkg/queue"
)

// LotSnapshot is the codec-friendly image of one lot, complete enough to
// resume decryption or settlement mid-scan after a restart. Big integers are
// big-endian byte strings; a nil slice is a nil value.
type LotSnapshot struct {
	ID         uint64      `cbor:"1,keyasint"`
	Seller     ids.Address `cbor:"2,keyasint"`
	Capacity   []byte      `cbor:"3,keyasint"`
	Remaining  []byte      `cbor:"4,keyasint"`
	Start      int64       `cbor:"5,keyasint"`
	Conclusion int64       `cbor:"6,keyasint"`

	BaseDecimals  uint8  `cbor:"7,keyasint"`
	QuoteDecimals uint8  `cbor:"8,keyasint"`
	MinPrice      []byte `cbor:"9,keyasint"`
	MinFillBps    uint16 `cbor:"10,keyasint"`
	MinBidSize    []byte `cbor:"11,keyasint"`

	PubX []byte `cbor:"12,keyasint"`
	PubY []byte `cbor:"13,keyasint"`

	Status           uint8    `cbor:"14,keyasint"`
	NextBidID        uint64   `cbor:"15,keyasint"`
	LiveIndex        []uint64 `cbor:"16,keyasint"`
	PrivKey          []byte   `cbor:"17,keyasint"`
	NextDecryptIndex int      `cbor:"18,keyasint"`

	ScanStarted   bool   `cbor:"19,keyasint"`
	ScanTotalIn   []byte `cbor:"20,keyasint"`
	ScanLastPrice []byte `cbor:"21,keyasint"`
	ScanLastBidID uint64 `cbor:"22,keyasint"`

	Result *SettlementSnapshot `cbor:"23,keyasint,omitempty"`
	Bids   []BidSnapshot       `cbor:"24,keyasint"`
}

// BidSnapshot is the codec-friendly image of one bid. InQueue distinguishes a
// bid still awaiting its settlement turn from one already consumed by the
// scan; both carry Queued=true.
type BidSnapshot struct {
	ID        uint64      `cbor:"1,keyasint"`
	Bidder    ids.Address `cbor:"2,keyasint"`
	Recipient ids.Address `cbor:"3,keyasint"`
	Referrer  ids.Address `cbor:"4,keyasint"`
	AmountIn  []byte      `cbor:"5,keyasint"`

	Ciphertext [32]byte `cbor:"6,keyasint"`
	EphX       []byte   `cbor:"7,keyasint"`
	EphY       []byte   `cbor:"8,keyasint"`

	Status  uint8  `cbor:"9,keyasint"`
	Value   []byte `cbor:"10,keyasint"`
	Queued  bool   `cbor:"11,keyasint"`
	InQueue bool   `cbor:"12,keyasint"`
}

// SettlementSnapshot mirrors Settlement with codec-friendly integers.
type SettlementSnapshot struct {
	MarginalPrice []byte `cbor:"1,keyasint"`
	MarginalBidID uint64 `cbor:"2,keyasint"`
	PartialFill   bool   `cbor:"3,keyasint"`
	PartialPayout []byte `cbor:"4,keyasint"`
	PartialRefund []byte `cbor:"5,keyasint"`
	TotalIn       []byte `cbor:"6,keyasint"`
	TotalOut      []byte `cbor:"7,keyasint"`
	Cleared       bool   `cbor:"8,keyasint"`
	Finished      bool   `cbor:"9,keyasint"`
}

func u256be(x *uint256.Int) []byte {
	if x == nil {
		return nil
	}
	return x.Bytes()
}

func u256from(b []byte) *uint256.Int {
	if b == nil {
		return nil
	}
	return new(uint256.Int).SetBytes(b)
}

// SnapshotLot captures one lot.
func (h *House) SnapshotLot(lotID uint64) (*LotSnapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return nil, ErrLotNotFound
	}
	return snapshotLot(lot), nil
}

// Snapshot captures every lot in creation order.
func (h *House) Snapshot() []*LotSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*LotSnapshot, 0, len(h.lots))
	for id := uint64(1); id < h.nextLotID; id++ {
		if lot, ok := h.lots[id]; ok {
			out = append(out, snapshotLot(lot))
		}
	}
	return out
}

func snapshotLot(lot *Lot) *LotSnapshot {
	s := &LotSnapshot{
		ID:               lot.ID,
		Seller:           lot.Params.Seller,
		Capacity:         u256be(lot.Params.Capacity),
		Remaining:        u256be(lot.Capacity),
		Start:            lot.Params.Start.Unix(),
		Conclusion:       lot.Params.Conclusion.Unix(),
		BaseDecimals:     lot.Params.BaseDecimals,
		QuoteDecimals:    lot.Params.QuoteDecimals,
		MinPrice:         u256be(lot.Params.MinPrice),
		MinFillBps:       lot.Params.MinFillBps,
		MinBidSize:       u256be(lot.Params.MinBidSize),
		PubX:             u256be(lot.Params.PublicKey.X),
		PubY:             u256be(lot.Params.PublicKey.Y),
		Status:           uint8(lot.Status),
		NextBidID:        lot.nextBidID,
		LiveIndex:        append([]uint64(nil), lot.liveIndex...),
		NextDecryptIndex: lot.nextDecryptIndex,
		ScanStarted:      lot.scan.started,
		ScanTotalIn:      u256be(lot.scan.totalAmountIn),
		ScanLastPrice:    u256be(lot.scan.lastPrice),
		ScanLastBidID:    lot.scan.lastBidID,
	}
	if lot.privKey != nil {
		s.PrivKey = lot.privKey.Bytes()
	}
	if lot.Result != nil {
		s.Result = &SettlementSnapshot{
			MarginalPrice: u256be(lot.Result.MarginalPrice),
			MarginalBidID: lot.Result.MarginalBidID,
			PartialFill:   lot.Result.PartialFill,
			PartialPayout: u256be(lot.Result.PartialPayout),
			PartialRefund: u256be(lot.Result.PartialRefund),
			TotalIn:       u256be(lot.Result.TotalAmountIn),
			TotalOut:      u256be(lot.Result.TotalAmountOut),
			Cleared:       lot.Result.Cleared,
			Finished:      lot.Result.Finished,
		}
	}

	s.Bids = make([]BidSnapshot, 0, len(lot.bids))
	for id := uint64(1); id < lot.nextBidID; id++ {
		bid, ok := lot.bids[id]
		if !ok {
			continue
		}
		bs := BidSnapshot{
			ID:         bid.ID,
			Bidder:     bid.Bidder,
			Recipient:  bid.Recipient,
			Referrer:   bid.Referrer,
			AmountIn:   u256be(bid.AmountIn),
			Ciphertext: bid.Ciphertext,
			EphX:       u256be(bid.EphemeralKey.X),
			EphY:       u256be(bid.EphemeralKey.Y),
			Status:     uint8(bid.Status),
			Value:      u256be(bid.Value),
			Queued:     bid.Queued,
		}
		if bid.Queued && bid.Value != nil {
			bs.InQueue = lot.queue.Contains(queue.KeyFor(bid.Value, bid.ID))
		}
		s.Bids = append(s.Bids, bs)
	}
	return s
}

// RestoreLot rebuilds one lot from its snapshot, including the priority queue
// and the decrypt/settle cursors. Restoring over an existing lot id is an
// error.
func (h *House) RestoreLot(s *LotSnapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.lots[s.ID]; ok {
		return fmt.Errorf("lot %d already present", s.ID)
	}

	lot := &Lot{
		ID: s.ID,
		Params: Params{
			Seller:        s.Seller,
			Capacity:      u256from(s.Capacity),
			Start:         time.Unix(s.Start, 0).UTC(),
			Conclusion:    time.Unix(s.Conclusion, 0).UTC(),
			BaseDecimals:  s.BaseDecimals,
			QuoteDecimals: s.QuoteDecimals,
			MinPrice:      u256from(s.MinPrice),
			MinFillBps:    s.MinFillBps,
			MinBidSize:    u256from(s.MinBidSize),
			PublicKey:     ecies.Point{X: u256from(s.PubX), Y: u256from(s.PubY)},
		},
		Status:           LotStatus(s.Status),
		Capacity:         u256from(s.Remaining),
		bids:             make(map[uint64]*Bid, len(s.Bids)),
		liveIndex:        append([]uint64(nil), s.LiveIndex...),
		nextBidID:        s.NextBidID,
		queue:            queue.NewLinked(true),
		nextDecryptIndex: s.NextDecryptIndex,
	}
	if lot.Params.MinBidSize == nil {
		lot.Params.MinBidSize = uint256.NewInt(0)
	}
	if lot.Capacity == nil {
		lot.Capacity = uint256.NewInt(0)
	}
	if s.PrivKey != nil {
		lot.privKey = new(big.Int).SetBytes(s.PrivKey)
	}
	lot.scan = scanState{
		started:       s.ScanStarted,
		totalAmountIn: u256from(s.ScanTotalIn),
		lastPrice:     u256from(s.ScanLastPrice),
		lastBidID:     s.ScanLastBidID,
	}
	if lot.scan.started {
		// A checkpointed scan must resume with concrete accumulators even
		// when the codec collapsed zero values to nil.
		if lot.scan.totalAmountIn == nil {
			lot.scan.totalAmountIn = uint256.NewInt(0)
		}
		if lot.scan.lastPrice == nil {
			lot.scan.lastPrice = uint256.NewInt(0)
		}
	}
	if r := s.Result; r != nil {
		lot.Result = &Settlement{
			MarginalPrice:  u256from(r.MarginalPrice),
			MarginalBidID:  r.MarginalBidID,
			PartialFill:    r.PartialFill,
			PartialPayout:  u256from(r.PartialPayout),
			PartialRefund:  u256from(r.PartialRefund),
			TotalAmountIn:  u256from(r.TotalIn),
			TotalAmountOut: u256from(r.TotalOut),
			Cleared:        r.Cleared,
			Finished:       r.Finished,
		}
	}

	inQueue := make([]*Bid, 0, len(s.Bids))
	for i := range s.Bids {
		bs := &s.Bids[i]
		bid := &Bid{
			ID:           bs.ID,
			Bidder:       bs.Bidder,
			Recipient:    bs.Recipient,
			Referrer:     bs.Referrer,
			AmountIn:     u256from(bs.AmountIn),
			Ciphertext:   bs.Ciphertext,
			EphemeralKey: ecies.Point{X: u256from(bs.EphX), Y: u256from(bs.EphY)},
			Status:       BidStatus(bs.Status),
			Value:        u256from(bs.Value),
			Queued:       bs.Queued,
		}
		lot.bids[bid.ID] = bid
		if bs.InQueue {
			inQueue = append(inQueue, bid)
		}
	}

	// Rebuild the queue in priority order so each insertion can hint at its
	// predecessor and the whole rebuild stays linear.
	sort.Slice(inQueue, func(i, j int) bool {
		switch inQueue[i].Value.Cmp(inQueue[j].Value) {
		case 1:
			return true
		case -1:
			return false
		}
		return inQueue[i].ID < inQueue[j].ID
	})
	hint := queue.Key{}
	for _, bid := range inQueue {
		err := lot.queue.Insert(hint, queue.Entry{
			BidID:    bid.ID,
			AmountIn: bid.AmountIn,
			Value:    bid.Value,
		})
		if err != nil {
			return fmt.Errorf("rebuild queue for lot %d: %w", s.ID, err)
		}
		hint = queue.KeyFor(bid.Value, bid.ID)
	}

	h.lots[s.ID] = lot
	if s.ID >= h.nextLotID {
		h.nextLotID = s.ID + 1
	}
	return nil
}
