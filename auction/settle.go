// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package auction

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/sealedbid/empa/pkg/queue"
)

// SettleBatch advances the marginal-price scan by at most count bids and
// finalizes the lot once the clearing boundary is found. The scan checkpoint
// persists between calls, so settlement of a large queue can be spread over
// several bounded invocations; calling with count <= 0 or after the lot is
// settled changes no state. The finalizing step never fails: a lot that
// cannot clear is settled with the sentinel marginal price and refunds
// everyone.
func (h *House) SettleBatch(lotID uint64, count int) (*Settlement, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return nil, ErrLotNotFound
	}
	if lot.Status == LotSettled {
		r := *lot.Result
		return &r, nil
	}
	if lot.Status != LotDecrypted {
		return nil, ErrNotDecrypted
	}

	st := &lot.scan
	if !st.started {
		st.started = true
		st.totalAmountIn = uint256.NewInt(0)
		st.lastPrice = uint256.NewInt(0)
	}
	if count <= 0 {
		return scanSnapshot(st), nil
	}

	capacity := lot.Params.Capacity
	minPrice := lot.Params.MinPrice
	scale := baseScale(lot.Params)

	var (
		boundary      bool
		marginalPrice *uint256.Int
		marginalBidID uint64
		partial       bool
		partialPayout *uint256.Int
		partialRefund *uint256.Int
	)

	for processed := 0; processed < count && !boundary; processed++ {
		entry, err := lot.queue.DelExtreme()
		if err == queue.ErrEmpty {
			break
		}
		price := entry.Value

		// A price below the minimum ends the scan before the bid is
		// counted: the boundary is the intermediate price at which the
		// amount collected so far exactly exhausts capacity, if that price
		// is itself acceptable, and otherwise the minimum price. No
		// sub-minimum bid is ever winning.
		if price.Lt(minPrice) {
			candidate := mulDivUp(st.totalAmountIn, scale, capacity)
			if !st.totalAmountIn.IsZero() && !candidate.Lt(minPrice) {
				marginalPrice = candidate
			} else {
				marginalPrice = new(uint256.Int).Set(minPrice)
			}
			marginalBidID = st.lastBidID
			boundary = true
			break
		}

		// If the amount already collected more than exhausts capacity at
		// this bid's price, the clearing price lies strictly between this
		// price and the previous one: the exact price that sells out
		// capacity. This bid is not counted and not marginal. Exact
		// exhaustion falls through so the current bid is still counted and
		// becomes the (possibly zero-payout) marginal bid.
		if !st.totalAmountIn.IsZero() {
			expended := mulDiv(st.totalAmountIn, scale, price)
			if expended.Gt(capacity) {
				marginalPrice = mulDivUp(st.totalAmountIn, scale, capacity)
				marginalBidID = st.lastBidID
				boundary = true
				break
			}
		}

		// Count the bid.
		st.totalAmountIn.Add(st.totalAmountIn, entry.AmountIn)
		st.lastPrice.Set(price)
		st.lastBidID = entry.BidID

		expended := mulDiv(st.totalAmountIn, scale, price)
		if !expended.Lt(capacity) {
			marginalPrice = new(uint256.Int).Set(price)
			marginalBidID = entry.BidID
			if expended.Gt(capacity) {
				// Capacity falls inside this bid: it fills partially.
				excess := new(uint256.Int).Sub(expended, capacity)
				fullFill := mulDiv(entry.AmountIn, scale, price)
				refund := mulDiv(entry.AmountIn, excess, fullFill)
				partial = true
				partialPayout = new(uint256.Int).Sub(fullFill, excess)
				partialRefund = refund
				st.totalAmountIn.Sub(st.totalAmountIn, refund)
			}
			boundary = true
		}
	}

	// Queue exhausted without filling capacity: everything queued wins in
	// full at the lowest acceptable price seen.
	if !boundary && lot.queue.Len() == 0 {
		if st.totalAmountIn.IsZero() {
			marginalPrice = new(uint256.Int).Set(minPrice)
		} else {
			marginalPrice = new(uint256.Int).Set(st.lastPrice)
		}
		marginalBidID = st.lastBidID
		boundary = true
	}

	if !boundary {
		// Budget consumed with work remaining; checkpoint persists.
		return scanSnapshot(st), nil
	}

	totalOut := mulDiv(st.totalAmountIn, scale, marginalPrice)
	if totalOut.Gt(capacity) {
		totalOut = new(uint256.Int).Set(capacity)
	}

	minFilled := mulDiv(capacity, uint256.NewInt(uint64(lot.Params.MinFillBps)), uint256.NewInt(bpsDenominator))
	cleared := !totalOut.Lt(minFilled) && !marginalPrice.Lt(minPrice)

	result := &Settlement{
		MarginalPrice:  marginalPrice,
		MarginalBidID:  marginalBidID,
		PartialFill:    partial,
		PartialPayout:  partialPayout,
		PartialRefund:  partialRefund,
		TotalAmountIn:  new(uint256.Int).Set(st.totalAmountIn),
		TotalAmountOut: totalOut,
		Cleared:        cleared,
		Finished:       true,
	}
	if !cleared {
		result = &Settlement{
			MarginalPrice:  new(uint256.Int).Set(MarginalPriceSentinel),
			TotalAmountIn:  uint256.NewInt(0),
			TotalAmountOut: uint256.NewInt(0),
			Cleared:        false,
			Finished:       true,
		}
	}

	lot.Result = result
	lot.Status = LotSettled
	lot.Capacity = uint256.NewInt(0)

	h.log.Info(fmt.Sprintf("lot settled id=%d cleared=%t marginalPrice=%s sold=%s",
		lot.ID, result.Cleared, result.MarginalPrice, result.TotalAmountOut))

	r := *result
	return &r, nil
}

func scanSnapshot(st *scanState) *Settlement {
	return &Settlement{
		TotalAmountIn: new(uint256.Int).Set(st.totalAmountIn),
		Finished:      false,
	}
}

// mulDiv computes a*b/c rounding down. Operands are bounded well below the
// 256-bit range by the amount and decimal limits, so the product is exact.
func mulDiv(a, b, c *uint256.Int) *uint256.Int {
	t := new(uint256.Int).Mul(a, b)
	return t.Div(t, c)
}

// mulDivUp computes a*b/c rounding up.
func mulDivUp(a, b, c *uint256.Int) *uint256.Int {
	p := new(uint256.Int).Mul(a, b)
	q := new(uint256.Int).Div(p, c)
	check := new(uint256.Int).Mul(q, c)
	if !check.Eq(p) {
		q.AddUint64(q, 1)
	}
	return q
}
