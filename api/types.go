// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes the auction house over HTTP: a public gin router for
// the lot and bid lifecycle, a websocket event feed, and an admin listener
// for health and metrics. Integer amounts travel as decimal strings; curve
// points as hex coordinate pairs.
package api

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/sealedbid/empa/auction"
	"github.com/sealedbid/empa/pkg/ecies"
)

// PointJSON is an affine curve point in hex.
type PointJSON struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// FromPoint converts an ecies point to its wire form.
func FromPoint(p ecies.Point) PointJSON {
	return PointJSON{X: p.X.Hex(), Y: p.Y.Hex()}
}

// ToPoint parses the wire form back into an ecies point.
func (p PointJSON) ToPoint() (ecies.Point, error) {
	x, err := uint256.FromHex(p.X)
	if err != nil {
		return ecies.Point{}, fmt.Errorf("point x: %w", err)
	}
	y, err := uint256.FromHex(p.Y)
	if err != nil {
		return ecies.Point{}, fmt.Errorf("point y: %w", err)
	}
	return ecies.Point{X: x, Y: y}, nil
}

// CreateLotRequest creates a new lot.
type CreateLotRequest struct {
	Seller        string    `json:"seller" binding:"required"`
	Capacity      string    `json:"capacity" binding:"required"`
	Start         time.Time `json:"start"`
	Conclusion    time.Time `json:"conclusion" binding:"required"`
	BaseDecimals  uint8     `json:"base_decimals" binding:"required"`
	QuoteDecimals uint8     `json:"quote_decimals" binding:"required"`
	MinPrice      string    `json:"min_price" binding:"required"`
	MinFillBps    uint16    `json:"min_fill_bps"`
	MinBidSize    string    `json:"min_bid_size"`
	PublicKey     PointJSON `json:"public_key" binding:"required"`
}

// CreateLotResponse returns the assigned lot id.
type CreateLotResponse struct {
	LotID uint64 `json:"lot_id"`
}

// SubmitBidRequest submits one sealed bid.
type SubmitBidRequest struct {
	Bidder       string    `json:"bidder" binding:"required"`
	Recipient    string    `json:"recipient"`
	Referrer     string    `json:"referrer"`
	AmountIn     string    `json:"amount_in" binding:"required"`
	Ciphertext   string    `json:"ciphertext" binding:"required"` // 32-byte hex
	EphemeralKey PointJSON `json:"ephemeral_key" binding:"required"`
}

// SubmitBidResponse returns the assigned bid id.
type SubmitBidResponse struct {
	BidID uint64 `json:"bid_id"`
}

// WithdrawRequest identifies the caller withdrawing a bid.
type WithdrawRequest struct {
	Caller string `json:"caller" binding:"required"`
}

// WithdrawResponse returns the refunded amount.
type WithdrawResponse struct {
	Refund string `json:"refund"`
}

// CancelLotRequest aborts a lot before its window opens. Signature is a
// 65-byte recoverable ECDSA signature by the seller key over the cancel
// payload for this lot.
type CancelLotRequest struct {
	Signature string `json:"signature" binding:"required"`
}

// SubmitKeyRequest reveals the lot's ECIES private key after conclusion.
type SubmitKeyRequest struct {
	PrivateKey string `json:"private_key" binding:"required"` // hex scalar
}

// HintJSON is an optional queue insertion hint for one decrypted bid.
type HintJSON struct {
	Value string `json:"value"`
	BidID uint64 `json:"bid_id"`
}

// DecryptRequest advances the decryption driver.
type DecryptRequest struct {
	PrivateKey string     `json:"private_key" binding:"required"`
	Count      int        `json:"count" binding:"required"`
	Hints      []HintJSON `json:"hints"`
}

// DecryptResponse reports the batch outcome.
type DecryptResponse struct {
	Decrypted int    `json:"decrypted"`
	Remaining int    `json:"remaining"`
	Status    string `json:"status"`
}

// SettleRequest advances the settlement scan.
type SettleRequest struct {
	Count int `json:"count" binding:"required"`
}

// SettlementJSON is the scan outcome, final or checkpointed.
type SettlementJSON struct {
	MarginalPrice string `json:"marginal_price,omitempty"`
	MarginalBidID uint64 `json:"marginal_bid_id,omitempty"`
	PartialFill   bool   `json:"partial_fill"`
	PartialPayout string `json:"partial_payout,omitempty"`
	PartialRefund string `json:"partial_refund,omitempty"`
	TotalIn       string `json:"total_amount_in"`
	TotalOut      string `json:"total_amount_out,omitempty"`
	Cleared       bool   `json:"cleared"`
	Finished      bool   `json:"finished"`
}

// LotJSON is the public view of a lot.
type LotJSON struct {
	ID                uint64          `json:"id"`
	Seller            string          `json:"seller"`
	Capacity          string          `json:"capacity"`
	Start             time.Time       `json:"start"`
	Conclusion        time.Time       `json:"conclusion"`
	BaseDecimals      uint8           `json:"base_decimals"`
	QuoteDecimals     uint8           `json:"quote_decimals"`
	MinPrice          string          `json:"min_price"`
	MinPriceDisplay   decimal.Decimal `json:"min_price_display"`
	MinFillBps        uint16          `json:"min_fill_bps"`
	MinBidSize        string          `json:"min_bid_size"`
	PublicKey         PointJSON       `json:"public_key"`
	Status            string          `json:"status"`
	BidCount          int             `json:"bid_count"`
	LiveBidCount      int             `json:"live_bid_count"`
	DecryptedCount    int             `json:"decrypted_count"`
	QueuedCount       int             `json:"queued_count"`
	RemainingDecrypts int             `json:"remaining_decrypts"`
	Result            *SettlementJSON `json:"result,omitempty"`
}

// BidJSON is the public view of a bid.
type BidJSON struct {
	ID        uint64 `json:"id"`
	Bidder    string `json:"bidder"`
	Recipient string `json:"recipient"`
	Referrer  string `json:"referrer,omitempty"`
	AmountIn  string `json:"amount_in"`
	Status    string `json:"status"`
	Value     string `json:"value,omitempty"`
	Queued    bool   `json:"queued"`
}

// PendingBidJSON is one still-sealed bid exported for off-chain decryption.
type PendingBidJSON struct {
	BidID        uint64    `json:"bid_id"`
	Bidder       string    `json:"bidder"`
	AmountIn     string    `json:"amount_in"`
	Ciphertext   string    `json:"ciphertext"`
	EphemeralKey PointJSON `json:"ephemeral_key"`
	Salt         string    `json:"salt"`
}

// ClaimJSON is one bid's settlement instruction.
type ClaimJSON struct {
	BidID     uint64 `json:"bid_id"`
	Bidder    string `json:"bidder"`
	Recipient string `json:"recipient"`
	Referrer  string `json:"referrer,omitempty"`
	AmountIn  string `json:"amount_in"`
	Payout    string `json:"payout"`
	Refund    string `json:"refund"`
}

// Event is one websocket feed message.
type Event struct {
	Type  string    `json:"type"`
	LotID uint64    `json:"lot_id"`
	BidID uint64    `json:"bid_id,omitempty"`
	At    time.Time `json:"at"`
}

// Event types published on the feed.
const (
	EventLotCreated   = "lot_created"
	EventLotCancelled = "lot_cancelled"
	EventBidSubmitted = "bid_submitted"
	EventBidWithdrawn = "bid_withdrawn"
	EventKeyRevealed  = "key_revealed"
	EventLotDecrypted = "lot_decrypted"
	EventLotSettled   = "lot_settled"
	EventBidClaimed   = "bid_claimed"
)

func settlementJSON(s *auction.Settlement) *SettlementJSON {
	if s == nil {
		return nil
	}
	out := &SettlementJSON{
		MarginalBidID: s.MarginalBidID,
		PartialFill:   s.PartialFill,
		Cleared:       s.Cleared,
		Finished:      s.Finished,
		TotalIn:       s.TotalAmountIn.Dec(),
	}
	if s.MarginalPrice != nil {
		out.MarginalPrice = s.MarginalPrice.Dec()
	}
	if s.PartialPayout != nil {
		out.PartialPayout = s.PartialPayout.Dec()
	}
	if s.PartialRefund != nil {
		out.PartialRefund = s.PartialRefund.Dec()
	}
	if s.TotalAmountOut != nil {
		out.TotalOut = s.TotalAmountOut.Dec()
	}
	return out
}

func lotJSON(v auction.LotView) LotJSON {
	// Display price scaled to quote decimals for humans; the raw integer
	// string stays canonical.
	display := decimal.NewFromBigInt(v.Params.MinPrice.ToBig(), -int32(v.Params.QuoteDecimals))
	return LotJSON{
		ID:                v.ID,
		Seller:            v.Params.Seller.String(),
		Capacity:          v.Capacity.Dec(),
		Start:             v.Params.Start,
		Conclusion:        v.Params.Conclusion,
		BaseDecimals:      v.Params.BaseDecimals,
		QuoteDecimals:     v.Params.QuoteDecimals,
		MinPrice:          v.Params.MinPrice.Dec(),
		MinPriceDisplay:   display,
		MinFillBps:        v.Params.MinFillBps,
		MinBidSize:        v.Params.MinBidSize.Dec(),
		PublicKey:         FromPoint(v.Params.PublicKey),
		Status:            v.Status.String(),
		BidCount:          v.BidCount,
		LiveBidCount:      v.LiveBidCount,
		DecryptedCount:    v.DecryptedCount,
		QueuedCount:       v.QueuedCount,
		RemainingDecrypts: v.RemainingDecrypts,
		Result:            settlementJSON(v.Result),
	}
}

func bidJSON(v auction.BidView) BidJSON {
	out := BidJSON{
		ID:        v.ID,
		Bidder:    v.Bidder.String(),
		Recipient: v.Recipient.String(),
		AmountIn:  v.AmountIn.Dec(),
		Status:    v.Status.String(),
		Queued:    v.Queued,
	}
	if !v.Referrer.IsEmpty() {
		out.Referrer = v.Referrer.String()
	}
	if v.Value != nil {
		out.Value = v.Value.Dec()
	}
	return out
}

func claimJSON(c auction.Claim) ClaimJSON {
	out := ClaimJSON{
		BidID:     c.BidID,
		Bidder:    c.Bidder.String(),
		Recipient: c.Recipient.String(),
		AmountIn:  c.AmountIn.Dec(),
		Payout:    c.Payout.Dec(),
		Refund:    c.Refund.Dec(),
	}
	if !c.Referrer.IsEmpty() {
		out.Referrer = c.Referrer.String()
	}
	return out
}
