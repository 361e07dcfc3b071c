// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package auction

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/sealedbid/empa/pkg/ids"
)

// Claims returns the custody-layer instruction vector for a settled lot:
// who paid what, who receives payout, who gets refunded. It is a view and
// marks nothing claimed. A bidder refunded because the lot failed and a
// bidder refunded because they were outbid are indistinguishable here.
func (h *House) Claims(lotID uint64) ([]Claim, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return nil, ErrLotNotFound
	}
	if lot.Status != LotSettled {
		return nil, ErrWrongState
	}

	out := make([]Claim, 0, len(lot.bids))
	for _, bid := range lot.bids {
		if bid.Status == BidRefunded && !bid.Queued {
			// Withdrawn before conclusion; already refunded.
			continue
		}
		out = append(out, claimFor(lot, bid))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BidID < out[j].BidID })
	return out, nil
}

// Claim settles one bid's proceeds exactly once. Only the bidder or the
// recipient may claim. Winning bids are marked Claimed, losing ones
// Refunded; either terminal state rejects re-entry.
func (h *House) Claim(lotID, bidID uint64, caller ids.Address) (Claim, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return Claim{}, ErrLotNotFound
	}
	if lot.Status != LotSettled {
		return Claim{}, ErrWrongState
	}
	bid, ok := lot.bids[bidID]
	if !ok {
		return Claim{}, ErrBidNotFound
	}
	if caller != bid.Bidder && caller != bid.Recipient {
		return Claim{}, ErrNotBidder
	}
	if bid.Status == BidClaimed || bid.Status == BidRefunded {
		return Claim{}, ErrWrongState
	}

	claim := claimFor(lot, bid)
	if claim.Payout.IsZero() {
		bid.Status = BidRefunded
	} else {
		bid.Status = BidClaimed
	}

	h.log.Debug(fmt.Sprintf("bid claimed lot=%d bid=%d payout=%s refund=%s",
		lotID, bidID, claim.Payout, claim.Refund))
	return claim, nil
}

// claimFor computes one bid's settlement tuple. A bid wins when its price is
// strictly above the marginal price, or equal to it with an id at or before
// the marginal bid (earlier submission wins all ties).
func claimFor(lot *Lot, bid *Bid) Claim {
	claim := Claim{
		BidID:     bid.ID,
		Bidder:    bid.Bidder,
		Recipient: bid.Recipient,
		Referrer:  bid.Referrer,
		AmountIn:  new(uint256.Int).Set(bid.AmountIn),
		Payout:    uint256.NewInt(0),
		Refund:    uint256.NewInt(0),
	}

	result := lot.Result
	if !result.Cleared || !bid.Queued || bid.Value == nil {
		claim.Refund.Set(bid.AmountIn)
		return claim
	}

	won := bid.Value.Gt(result.MarginalPrice) ||
		(bid.Value.Eq(result.MarginalPrice) && bid.ID <= result.MarginalBidID)
	if !won {
		claim.Refund.Set(bid.AmountIn)
		return claim
	}

	if result.PartialFill && bid.ID == result.MarginalBidID {
		claim.Payout.Set(result.PartialPayout)
		claim.Refund.Set(result.PartialRefund)
		return claim
	}

	scale := baseScale(lot.Params)
	claim.Payout = mulDiv(bid.AmountIn, scale, result.MarginalPrice)
	return claim
}
