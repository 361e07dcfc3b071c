// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package auction implements sealed-bid batch auction lots: bid submission
// with encrypted values, the resumable decryption driver, and marginal-price
// settlement. One House instance owns an arena of independent lots.
package auction

import (
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"github.com/sealedbid/empa/pkg/ecies"
	"github.com/sealedbid/empa/pkg/ids"
	"github.com/sealedbid/empa/pkg/queue"
)

// LotStatus tracks the linear lot lifecycle.
type LotStatus uint8

const (
	LotCreated LotStatus = iota
	LotDecrypted
	LotSettled
)

func (s LotStatus) String() string {
	switch s {
	case LotCreated:
		return "created"
	case LotDecrypted:
		return "decrypted"
	case LotSettled:
		return "settled"
	}
	return "unknown"
}

// BidStatus tracks one bid's lifecycle.
type BidStatus uint8

const (
	BidSubmitted BidStatus = iota
	BidDecrypted
	BidClaimed
	BidRefunded
)

func (s BidStatus) String() string {
	switch s {
	case BidSubmitted:
		return "submitted"
	case BidDecrypted:
		return "decrypted"
	case BidClaimed:
		return "claimed"
	case BidRefunded:
		return "refunded"
	}
	return "unknown"
}

// MarginalPriceSentinel marks a settled-but-failed lot. It exceeds any
// sealable value (values are 128-bit), so every bid compares below it and
// claims a full refund.
var MarginalPriceSentinel = new(uint256.Int).Not(uint256.NewInt(0))

// Params are the seller-chosen terms of a lot, immutable after creation.
type Params struct {
	Seller     ids.Address
	Capacity   *uint256.Int // base units offered
	Start      time.Time    // bidding window open; zero means immediately
	Conclusion time.Time    // bidding window close

	BaseDecimals  uint8
	QuoteDecimals uint8

	// MinPrice is quote units per 10^BaseDecimals base units.
	MinPrice *uint256.Int
	// MinFillBps is the fraction of capacity, in basis points, that must
	// sell for the lot to clear rather than refund.
	MinFillBps uint16
	// MinBidSize is the smallest accepted amount tendered, in quote units.
	MinBidSize *uint256.Int

	// PublicKey is the auction encryption key; its private half is revealed
	// only after conclusion.
	PublicKey ecies.Point
}

// Bid is one sealed offer. AmountIn is plaintext and immutable after
// submission; only the implied price is sealed.
type Bid struct {
	ID        uint64
	Bidder    ids.Address
	Recipient ids.Address
	Referrer  ids.Address
	AmountIn  *uint256.Int // quote units tendered

	Ciphertext   [32]byte
	EphemeralKey ecies.Point

	Status BidStatus
	Value  *uint256.Int // sealed limit price, set by the decryption driver
	Queued bool         // false once decrypted means refund at claim time
}

// Settlement is the outcome of the marginal-price scan.
type Settlement struct {
	// MarginalPrice is the single clearing price, or MarginalPriceSentinel
	// when the lot failed to clear.
	MarginalPrice *uint256.Int
	// MarginalBidID is the highest bid id that wins at exactly the marginal
	// price; zero means no bid at that price wins.
	MarginalBidID uint64

	PartialFill   bool
	PartialPayout *uint256.Int // base units to the partially filled bid
	PartialRefund *uint256.Int // quote units back to the partially filled bid

	TotalAmountIn  *uint256.Int // quote units collected from winners
	TotalAmountOut *uint256.Int // base units sold

	Cleared  bool
	Finished bool
}

// Claim is the custody-layer instruction for one bid after settlement.
type Claim struct {
	BidID     uint64
	Bidder    ids.Address
	Recipient ids.Address
	Referrer  ids.Address
	AmountIn  *uint256.Int
	Payout    *uint256.Int // base units owed to the recipient
	Refund    *uint256.Int // quote units returned to the bidder
}

// Lot is one auctioned quantity under a single set of terms.
type Lot struct {
	ID     uint64
	Params Params
	Status LotStatus

	// Capacity remaining to allocate; zeroed once settled.
	Capacity *uint256.Int

	bids      map[uint64]*Bid
	liveIndex []uint64 // submission-ordered ids of withdrawable bids
	nextBidID uint64

	queue *queue.LinkedQueue

	// Decryption driver state.
	privKey          *big.Int
	nextDecryptIndex int

	// Settlement engine checkpoint.
	scan   scanState
	Result *Settlement
}

// scanState is the persisted cursor of the resumable settlement scan.
type scanState struct {
	started       bool
	totalAmountIn *uint256.Int
	lastPrice     *uint256.Int
	lastBidID     uint64
}

// LotView is a read-only snapshot of a lot.
type LotView struct {
	ID                uint64
	Params            Params
	Status            LotStatus
	Capacity          *uint256.Int
	BidCount          int
	LiveBidCount      int
	DecryptedCount    int
	QueuedCount       int
	RemainingDecrypts int
	Result            *Settlement
}

// BidView is a read-only snapshot of a bid. Value is nil until decrypted.
type BidView struct {
	ID        uint64
	Bidder    ids.Address
	Recipient ids.Address
	Referrer  ids.Address
	AmountIn  *uint256.Int
	Status    BidStatus
	Value     *uint256.Int
	Queued    bool
}

// PendingBid is an undecrypted bid exported for off-chain decryption. Salt
// is the per-bid context the decryptor must feed into ecies.Decrypt.
type PendingBid struct {
	BidID        uint64
	Bidder       ids.Address
	AmountIn     *uint256.Int
	Ciphertext   [32]byte
	EphemeralKey ecies.Point
	Salt         [32]byte
}
