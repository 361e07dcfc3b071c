// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package auction

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/sealedbid/empa/pkg/ecies"
	"github.com/sealedbid/empa/pkg/ids"
	"github.com/sealedbid/empa/pkg/log"
	"github.com/sealedbid/empa/pkg/queue"
)

var (
	ErrLotNotFound    = errors.New("lot not found")
	ErrBidNotFound    = errors.New("bid not found")
	ErrInvalidParams  = errors.New("invalid lot parameters")
	ErrInvalidBid     = errors.New("invalid bid")
	ErrBidTooSmall    = errors.New("amount below minimum bid size")
	ErrNotStarted     = errors.New("bidding window not open")
	ErrBiddingClosed  = errors.New("bidding window closed")
	ErrLotActive      = errors.New("lot has not concluded")
	ErrAlreadyStarted = errors.New("lot already started")
	ErrNotSeller      = errors.New("caller is not the seller")
	ErrNotBidder      = errors.New("caller is not the bidder")
	ErrWrongState     = errors.New("operation not valid in current state")
	ErrNotDecrypted   = errors.New("lot not fully decrypted")
)

const (
	minDecimals = 6
	maxDecimals = 18

	// maxAmountBits bounds tendered amounts so settlement products stay far
	// from 256-bit overflow.
	maxAmountBits = 96

	bpsDenominator = 10_000
)

// House owns an arena of lots. Each lot carries its own bid table, live-bid
// index, priority queue, and decrypt/settle cursors; nothing is shared
// across lots.
type House struct {
	mu  sync.RWMutex
	log log.Logger
	now func() time.Time

	nextLotID uint64
	lots      map[uint64]*Lot
}

// NewHouse creates an empty auction house.
func NewHouse(logger log.Logger) *House {
	return &House{
		log:       logger,
		now:       time.Now,
		nextLotID: 1,
		lots:      make(map[uint64]*Lot),
	}
}

// SetClock overrides the time source. Intended for tests.
func (h *House) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

// CreateLot registers a new lot and returns its id.
func (h *House) CreateLot(p Params) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if p.Start.IsZero() {
		p.Start = now
	}
	if err := validateParams(p, now); err != nil {
		return 0, err
	}
	if p.MinBidSize == nil {
		p.MinBidSize = uint256.NewInt(0)
	}

	id := h.nextLotID
	h.nextLotID++

	h.lots[id] = &Lot{
		ID:        id,
		Params:    p,
		Status:    LotCreated,
		Capacity:  new(uint256.Int).Set(p.Capacity),
		bids:      make(map[uint64]*Bid),
		nextBidID: 1,
		queue:     queue.NewLinked(true),
	}

	h.log.Info(fmt.Sprintf("lot created id=%d capacity=%s conclusion=%s",
		id, p.Capacity, p.Conclusion.UTC().Format(time.RFC3339)))
	return id, nil
}

func validateParams(p Params, now time.Time) error {
	if p.Seller.IsEmpty() {
		return fmt.Errorf("%w: empty seller", ErrInvalidParams)
	}
	if p.Capacity == nil || p.Capacity.IsZero() {
		return fmt.Errorf("%w: zero capacity", ErrInvalidParams)
	}
	if p.MinPrice == nil || p.MinPrice.IsZero() {
		return fmt.Errorf("%w: zero minimum price", ErrInvalidParams)
	}
	if p.BaseDecimals < minDecimals || p.BaseDecimals > maxDecimals ||
		p.QuoteDecimals < minDecimals || p.QuoteDecimals > maxDecimals {
		return fmt.Errorf("%w: decimals out of range", ErrInvalidParams)
	}
	if p.MinFillBps > bpsDenominator {
		return fmt.Errorf("%w: minimum fill above 100%%", ErrInvalidParams)
	}
	if !p.Conclusion.After(p.Start) || !p.Conclusion.After(now) {
		return fmt.Errorf("%w: conclusion not after start", ErrInvalidParams)
	}
	if !p.PublicKey.IsValid() {
		return fmt.Errorf("%w: %v", ErrInvalidParams, ecies.ErrInvalidPoint)
	}
	return nil
}

// SubmitBid accepts a sealed bid while the lot's bidding window is open and
// returns the assigned bid id. The sealed value cannot be validated here by
// construction; only the ephemeral key and the plaintext amount are checked.
func (h *House) SubmitBid(lotID uint64, bidder, recipient, referrer ids.Address, amount *uint256.Int, ciphertext [32]byte, ephemeralKey ecies.Point) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return 0, ErrLotNotFound
	}
	now := h.now()
	if lot.Status != LotCreated {
		return 0, ErrWrongState
	}
	if now.Before(lot.Params.Start) {
		return 0, ErrNotStarted
	}
	if !now.Before(lot.Params.Conclusion) {
		return 0, ErrBiddingClosed
	}
	if bidder.IsEmpty() {
		return 0, fmt.Errorf("%w: empty bidder", ErrInvalidBid)
	}
	if amount == nil || amount.IsZero() || amount.BitLen() > maxAmountBits {
		return 0, fmt.Errorf("%w: bad amount", ErrInvalidBid)
	}
	if amount.Lt(lot.Params.MinBidSize) {
		return 0, ErrBidTooSmall
	}
	if !ephemeralKey.IsValid() {
		return 0, fmt.Errorf("%w: %v", ErrInvalidBid, ecies.ErrInvalidPoint)
	}
	if recipient.IsEmpty() {
		recipient = bidder
	}

	id := lot.nextBidID
	lot.nextBidID++

	lot.bids[id] = &Bid{
		ID:           id,
		Bidder:       bidder,
		Recipient:    recipient,
		Referrer:     referrer,
		AmountIn:     new(uint256.Int).Set(amount),
		Ciphertext:   ciphertext,
		EphemeralKey: ephemeralKey,
		Status:       BidSubmitted,
	}
	lot.liveIndex = append(lot.liveIndex, id)

	h.log.Debug(fmt.Sprintf("bid submitted lot=%d bid=%d bidder=%s amount=%s",
		lotID, id, bidder, amount))
	return id, nil
}

// Withdraw removes a bid before the lot concludes. Only the bid owner may
// withdraw, and only while the bid is still sealed. Returns the amount to
// refund.
func (h *House) Withdraw(lotID, bidID uint64, caller ids.Address) (*uint256.Int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return nil, ErrLotNotFound
	}
	if lot.Status != LotCreated || lot.privKey != nil {
		return nil, ErrWrongState
	}
	if !h.now().Before(lot.Params.Conclusion) {
		return nil, ErrBiddingClosed
	}
	bid, ok := lot.bids[bidID]
	if !ok {
		return nil, ErrBidNotFound
	}
	if bid.Bidder != caller {
		return nil, ErrNotBidder
	}
	if bid.Status != BidSubmitted {
		return nil, ErrWrongState
	}

	bid.Status = BidRefunded
	// Index order carries no settlement meaning before decryption, so
	// swap-with-last removal is fine.
	for i, id := range lot.liveIndex {
		if id == bidID {
			last := len(lot.liveIndex) - 1
			lot.liveIndex[i] = lot.liveIndex[last]
			lot.liveIndex = lot.liveIndex[:last]
			break
		}
	}

	h.log.Debug(fmt.Sprintf("bid withdrawn lot=%d bid=%d", lotID, bidID))
	return new(uint256.Int).Set(bid.AmountIn), nil
}

// CancelLot aborts a lot before its bidding window opens. The lot jumps
// straight to Settled with nothing cleared so that every bid (there should
// be none yet) and the seller's prefunded capacity route to refunds.
func (h *House) CancelLot(lotID uint64, caller ids.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return ErrLotNotFound
	}
	if caller != lot.Params.Seller {
		return ErrNotSeller
	}
	if lot.Status != LotCreated {
		return ErrWrongState
	}
	if !h.now().Before(lot.Params.Start) {
		return ErrAlreadyStarted
	}

	lot.Status = LotSettled
	lot.Capacity = uint256.NewInt(0)
	lot.Result = &Settlement{
		MarginalPrice:  new(uint256.Int).Set(MarginalPriceSentinel),
		TotalAmountIn:  uint256.NewInt(0),
		TotalAmountOut: uint256.NewInt(0),
		Cleared:        false,
		Finished:       true,
	}

	h.log.Info(fmt.Sprintf("lot cancelled id=%d", lotID))
	return nil
}

// GetLot returns a read-only snapshot of a lot.
func (h *House) GetLot(lotID uint64) (LotView, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return LotView{}, ErrLotNotFound
	}
	return h.lotView(lot), nil
}

func (h *House) lotView(lot *Lot) LotView {
	decrypted, queued := 0, 0
	for _, b := range lot.bids {
		if b.Status != BidSubmitted {
			decrypted++
		}
		if b.Queued {
			queued++
		}
	}
	var result *Settlement
	if lot.Result != nil {
		r := *lot.Result
		result = &r
	}
	return LotView{
		ID:                lot.ID,
		Params:            lot.Params,
		Status:            lot.Status,
		Capacity:          new(uint256.Int).Set(lot.Capacity),
		BidCount:          len(lot.bids),
		LiveBidCount:      len(lot.liveIndex),
		DecryptedCount:    decrypted,
		QueuedCount:       queued,
		RemainingDecrypts: len(lot.liveIndex) - lot.nextDecryptIndex,
		Result:            result,
	}
}

// GetBid returns a read-only snapshot of a bid.
func (h *House) GetBid(lotID, bidID uint64) (BidView, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return BidView{}, ErrLotNotFound
	}
	bid, ok := lot.bids[bidID]
	if !ok {
		return BidView{}, ErrBidNotFound
	}
	view := BidView{
		ID:        bid.ID,
		Bidder:    bid.Bidder,
		Recipient: bid.Recipient,
		Referrer:  bid.Referrer,
		AmountIn:  new(uint256.Int).Set(bid.AmountIn),
		Status:    bid.Status,
		Queued:    bid.Queued,
	}
	if bid.Value != nil {
		view.Value = new(uint256.Int).Set(bid.Value)
	}
	return view, nil
}

// QueueSize returns the number of decrypted bids awaiting settlement.
func (h *House) QueueSize(lotID uint64) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return 0, ErrLotNotFound
	}
	return lot.queue.Len(), nil
}

// LotIDs returns the ids of all known lots in creation order.
func (h *House) LotIDs() []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]uint64, 0, len(h.lots))
	for id := uint64(1); id < h.nextLotID; id++ {
		if _, ok := h.lots[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// baseScale returns 10^BaseDecimals for a lot.
func baseScale(p Params) *uint256.Int {
	scale := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := uint8(0); i < p.BaseDecimals; i++ {
		scale.Mul(scale, ten)
	}
	return scale
}
