// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package auction

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/sealedbid/empa/pkg/ecies"
	"github.com/sealedbid/empa/pkg/ids"
	"github.com/sealedbid/empa/pkg/log"
	"github.com/sealedbid/empa/pkg/queue"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// e18 scales a small integer to 18 decimals.
func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

type fixture struct {
	house  *House
	clock  *fakeClock
	lotID  uint64
	seller ids.Address
	priv   *big.Int
	pub    ecies.Point
}

// newFixture creates a lot with capacity 100 base units (18 decimals),
// minimum price 2, minimum fill 10%.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	require := require.New(t)

	priv, pub, err := ecies.GenerateKeyPair()
	require.NoError(err)

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	house := NewHouse(log.NoOp())
	house.SetClock(clock.Now)

	seller := ids.GenerateTestAddress()
	lotID, err := house.CreateLot(Params{
		Seller:        seller,
		Capacity:      e18(100),
		Start:         clock.Now().Add(time.Minute),
		Conclusion:    clock.Now().Add(time.Hour),
		BaseDecimals:  18,
		QuoteDecimals: 18,
		MinPrice:      e18(2),
		MinFillBps:    1_000,
		MinBidSize:    uint256.NewInt(1),
		PublicKey:     pub,
	})
	require.NoError(err)

	clock.Advance(2 * time.Minute) // open the bidding window
	return &fixture{house: house, clock: clock, lotID: lotID, seller: seller, priv: priv, pub: pub}
}

// bid seals a price and submits it, returning the bid id.
func (f *fixture) bid(t *testing.T, bidder ids.Address, amount, price *uint256.Int) uint64 {
	t.Helper()
	require := require.New(t)

	salt := BidSalt(f.lotID, bidder, amount)
	ct, eph, err := ecies.Encrypt(price, f.pub, salt)
	require.NoError(err)

	id, err := f.house.SubmitBid(f.lotID, bidder, ids.EmptyAddress, ids.EmptyAddress, amount, ct, eph)
	require.NoError(err)
	return id
}

func (f *fixture) conclude() {
	f.clock.Advance(2 * time.Hour)
}

func (f *fixture) decryptAll(t *testing.T) {
	t.Helper()
	_, err := f.house.DecryptBatch(f.lotID, f.priv, 1<<20, nil)
	require.NoError(t, err)
}

func (f *fixture) settleAll(t *testing.T) *Settlement {
	t.Helper()
	res, err := f.house.SettleBatch(f.lotID, 1<<20)
	require.NoError(t, err)
	return res
}

func TestMarginalPriceScenario(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	b := ids.GenerateTestAddress()
	c := ids.GenerateTestAddress()
	idA := f.bid(t, a, e18(300), e18(5))
	idB := f.bid(t, b, e18(100), e18(3))
	idC := f.bid(t, c, e18(50), e18(1)) // below minimum price
	require.Equal(uint64(1), idA)
	require.Equal(uint64(2), idB)
	require.Equal(uint64(3), idC)

	f.conclude()
	f.decryptAll(t)

	view, err := f.house.GetLot(f.lotID)
	require.NoError(err)
	require.Equal(LotDecrypted, view.Status)
	require.Equal(3, view.QueuedCount) // C is queued; settlement excludes it

	res := f.settleAll(t)
	require.True(res.Finished)
	require.True(res.Cleared)
	require.Equal(e18(3).String(), res.MarginalPrice.String())
	require.Equal(idB, res.MarginalBidID)
	require.True(res.PartialFill)

	// A alone expends exactly 100 at price 3, so B is marginal with its
	// entire fill in excess: zero payout, full refund.
	require.Equal("0", res.PartialPayout.String())
	require.Equal(e18(100).String(), res.PartialRefund.String())
	require.Equal(e18(300).String(), res.TotalAmountIn.String())
	require.Equal(e18(100).String(), res.TotalAmountOut.String())

	claims, err := f.house.Claims(f.lotID)
	require.NoError(err)
	require.Len(claims, 3)

	// A wins the whole capacity at the marginal price.
	require.Equal(e18(100).String(), claims[0].Payout.String())
	require.Equal("0", claims[0].Refund.String())
	// B is marginal with nothing filled.
	require.Equal("0", claims[1].Payout.String())
	require.Equal(e18(100).String(), claims[1].Refund.String())
	// C never counted.
	require.Equal("0", claims[2].Payout.String())
	require.Equal(e18(50).String(), claims[2].Refund.String())
}

func TestPartialFillConsistency(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	b := ids.GenerateTestAddress()
	f.bid(t, a, e18(240), e18(5)) // expends 80 of 100 at price 3
	idB := f.bid(t, b, e18(150), e18(3))

	f.conclude()
	f.decryptAll(t)
	res := f.settleAll(t)

	require.True(res.Cleared)
	require.Equal(e18(3).String(), res.MarginalPrice.String())
	require.Equal(idB, res.MarginalBidID)
	require.True(res.PartialFill)

	// B's full fill is 50 base; 30 of it exceeds capacity.
	require.Equal(e18(20).String(), res.PartialPayout.String())
	require.Equal(e18(90).String(), res.PartialRefund.String())

	fullFill := e18(50)
	sum := new(uint256.Int).Add(res.PartialPayout, new(uint256.Int).Sub(fullFill, e18(20)))
	require.Equal(fullFill.String(), sum.String())

	// Capacity conservation with equality on a clean fill.
	require.Equal(e18(100).String(), res.TotalAmountOut.String())
	require.Equal(e18(300).String(), res.TotalAmountIn.String())

	claims, err := f.house.Claims(f.lotID)
	require.NoError(err)
	require.Equal(e18(80).String(), claims[0].Payout.String())
	require.Equal(e18(20).String(), claims[1].Payout.String())
	require.Equal(e18(90).String(), claims[1].Refund.String())
}

func TestIntermediateMarginalPrice(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	b := ids.GenerateTestAddress()
	idA := f.bid(t, a, e18(450), e18(5)) // expends 90 of 100 at its own price
	f.bid(t, b, e18(100), e18(3))        // at price 3, prior amount expends 150

	f.conclude()
	f.decryptAll(t)
	res := f.settleAll(t)

	// Clearing price is the intermediate 4.5 that exactly sells capacity;
	// no bid at that price is marginal.
	require.True(res.Cleared)
	wantPrice := new(uint256.Int).Div(e18(45), uint256.NewInt(10))
	require.Equal(wantPrice.String(), res.MarginalPrice.String())
	require.Equal(idA, res.MarginalBidID)
	require.False(res.PartialFill)
	require.Equal(e18(100).String(), res.TotalAmountOut.String())

	claims, err := f.house.Claims(f.lotID)
	require.NoError(err)
	require.Equal(e18(100).String(), claims[0].Payout.String())
	require.Equal("0", claims[1].Payout.String())
	require.Equal(e18(100).String(), claims[1].Refund.String())
}

func TestAllBidsBelowMinimumRefund(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	b := ids.GenerateTestAddress()
	f.bid(t, a, e18(100), e18(1))
	f.bid(t, b, e18(200), e18(1))

	f.conclude()
	f.decryptAll(t)
	res := f.settleAll(t)

	require.True(res.Finished)
	require.False(res.Cleared)
	require.Equal(MarginalPriceSentinel.String(), res.MarginalPrice.String())
	require.Equal("0", res.TotalAmountOut.String())

	claims, err := f.house.Claims(f.lotID)
	require.NoError(err)
	for _, cl := range claims {
		require.Equal("0", cl.Payout.String())
		require.Equal(cl.AmountIn.String(), cl.Refund.String())
	}
}

func TestMinimumFillShortfall(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	// 9 quote at price 3 buys 3 base units, below the 10-unit minimum fill.
	a := ids.GenerateTestAddress()
	f.bid(t, a, e18(9), e18(3))

	f.conclude()
	f.decryptAll(t)
	res := f.settleAll(t)

	require.False(res.Cleared)
	require.Equal(MarginalPriceSentinel.String(), res.MarginalPrice.String())
}

func TestUnderfilledLotClearsAtLowestPrice(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	f.bid(t, a, e18(30), e18(3)) // buys 10 base units, exactly the minimum fill

	f.conclude()
	f.decryptAll(t)
	res := f.settleAll(t)

	require.True(res.Cleared)
	require.Equal(e18(3).String(), res.MarginalPrice.String())
	require.False(res.PartialFill)
	require.Equal(e18(10).String(), res.TotalAmountOut.String())

	claims, err := f.house.Claims(f.lotID)
	require.NoError(err)
	require.Equal(e18(10).String(), claims[0].Payout.String())
}

func TestSettlementMonotonicity(t *testing.T) {
	require := require.New(t)

	// Increasing one bid's tendered amount never decreases the marginal price.
	prev := uint256.NewInt(0)
	for _, amount := range []uint64{50, 150, 250, 350, 450} {
		f := newFixture(t)
		a := ids.GenerateTestAddress()
		b := ids.GenerateTestAddress()
		f.bid(t, a, e18(amount), e18(5))
		f.bid(t, b, e18(120), e18(3))

		f.conclude()
		f.decryptAll(t)
		res := f.settleAll(t)
		require.True(res.Cleared)
		require.False(res.MarginalPrice.Lt(prev), "amount=%d", amount)
		prev = res.MarginalPrice
	}
}

func TestTieBreakAtMarginalPrice(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	// Three equal-price bids; capacity runs out inside the second. The
	// earlier id wins preference, the last one loses entirely.
	a := ids.GenerateTestAddress()
	b := ids.GenerateTestAddress()
	c := ids.GenerateTestAddress()
	idA := f.bid(t, a, e18(240), e18(4)) // fills 60
	idB := f.bid(t, b, e18(240), e18(4)) // fills 40 of 60, partial
	idC := f.bid(t, c, e18(240), e18(4)) // loses
	_ = idC

	f.conclude()
	f.decryptAll(t)
	res := f.settleAll(t)

	require.True(res.Cleared)
	require.Equal(e18(4).String(), res.MarginalPrice.String())
	require.Equal(idB, res.MarginalBidID)
	require.True(res.PartialFill)
	require.Equal(e18(40).String(), res.PartialPayout.String())
	require.Equal(e18(80).String(), res.PartialRefund.String())

	claims, err := f.house.Claims(f.lotID)
	require.NoError(err)
	require.Equal(e18(60).String(), claims[0].Payout.String())
	require.Equal(idA, claims[0].BidID)
	require.Equal(e18(40).String(), claims[1].Payout.String())
	require.Equal("0", claims[2].Payout.String())
	require.Equal(e18(240).String(), claims[2].Refund.String())
}

func TestResumableSettlement(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	b := ids.GenerateTestAddress()
	f.bid(t, a, e18(240), e18(5))
	f.bid(t, b, e18(150), e18(3))

	f.conclude()
	f.decryptAll(t)

	// Zero count is a no-op.
	res, err := f.house.SettleBatch(f.lotID, 0)
	require.NoError(err)
	require.False(res.Finished)
	require.Equal("0", res.TotalAmountIn.String())

	// One bid per call.
	res, err = f.house.SettleBatch(f.lotID, 1)
	require.NoError(err)
	require.False(res.Finished)
	require.Equal(e18(240).String(), res.TotalAmountIn.String())

	res, err = f.house.SettleBatch(f.lotID, 1)
	require.NoError(err)
	require.True(res.Finished)
	require.True(res.Cleared)
	require.Equal(e18(3).String(), res.MarginalPrice.String())

	// Settled lots return the stored result without touching state.
	again, err := f.house.SettleBatch(f.lotID, 100)
	require.NoError(err)
	require.Equal(res.MarginalPrice.String(), again.MarginalPrice.String())
	require.Equal(res.TotalAmountOut.String(), again.TotalAmountOut.String())
}

func TestDecryptionDriver(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	bidders := make([]ids.Address, 5)
	for i := range bidders {
		bidders[i] = ids.GenerateTestAddress()
		f.bid(t, bidders[i], e18(uint64(10+i)), e18(uint64(3+i)))
	}

	// Decryption requires a concluded lot.
	_, err := f.house.DecryptBatch(f.lotID, f.priv, 10, nil)
	require.ErrorIs(err, ErrLotActive)

	f.conclude()

	// Wrong key rejected before any bid is touched.
	wrong := new(big.Int).Add(f.priv, big.NewInt(1))
	_, err = f.house.DecryptBatch(f.lotID, wrong, 10, nil)
	require.ErrorIs(err, ecies.ErrKeyMismatch)

	// View helper exposes the sealed batch in cursor order.
	pending, err := f.house.PeekUndecrypted(f.lotID, 3)
	require.NoError(err)
	require.Len(pending, 3)
	require.Equal(uint64(1), pending[0].BidID)

	// Bounded, clamped batches.
	n, err := f.house.DecryptBatch(f.lotID, f.priv, 2, nil)
	require.NoError(err)
	require.Equal(2, n)

	view, _ := f.house.GetLot(f.lotID)
	require.Equal(LotCreated, view.Status)
	require.Equal(3, view.RemainingDecrypts)

	n, err = f.house.DecryptBatch(f.lotID, f.priv, 100, nil)
	require.NoError(err)
	require.Equal(3, n)

	view, _ = f.house.GetLot(f.lotID)
	require.Equal(LotDecrypted, view.Status)
	require.Equal(5, view.QueuedCount)

	// Fully decrypted lot: further calls are no-ops.
	n, err = f.house.DecryptBatch(f.lotID, f.priv, 10, nil)
	require.NoError(err)
	require.Equal(0, n)

	// Decrypted values are visible and correct.
	bidView, err := f.house.GetBid(f.lotID, 1)
	require.NoError(err)
	require.Equal(BidDecrypted, bidView.Status)
	require.Equal(e18(3).String(), bidView.Value.String())
}

func TestDecryptionWithHints(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	f.bid(t, a, e18(300), e18(9))
	f.bid(t, a, e18(300), e18(7))
	f.bid(t, a, e18(300), e18(8))

	f.conclude()

	// Hints: first at head, second behind bid 1, third deliberately wrong
	// (points at a lower-priority node); insertion still lands correctly.
	hints := []queue.Key{
		{},
		queue.KeyFor(e18(9), 1),
		queue.KeyFor(e18(7), 2),
	}
	n, err := f.house.DecryptBatch(f.lotID, f.priv, 3, hints)
	require.NoError(err)
	require.Equal(3, n)

	size, err := f.house.QueueSize(f.lotID)
	require.NoError(err)
	require.Equal(3, size)

	res := f.settleAll(t)
	require.True(res.Cleared)
}

func TestUnfillableBidsSkipQueue(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	b := ids.GenerateTestAddress()
	c := ids.GenerateTestAddress()
	f.bid(t, a, e18(100), e18(5))
	f.bid(t, b, e18(1), uint256.NewInt(0)) // zero price
	// Price so high one quote unit buys zero base units.
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 120)
	f.bid(t, c, uint256.NewInt(1), huge)

	f.conclude()
	f.decryptAll(t)

	view, _ := f.house.GetLot(f.lotID)
	require.Equal(LotDecrypted, view.Status)
	require.Equal(3, view.DecryptedCount)
	require.Equal(1, view.QueuedCount)

	res := f.settleAll(t)
	require.True(res.Cleared)

	// Skipped bids refund in full at claim time.
	cl, err := f.house.Claim(f.lotID, 2, b)
	require.NoError(err)
	require.Equal("0", cl.Payout.String())
	require.Equal("1000000000000000000", cl.Refund.String())
}

func TestWithdraw(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	b := ids.GenerateTestAddress()
	idA := f.bid(t, a, e18(100), e18(5))
	f.bid(t, b, e18(240), e18(4))

	// Only the owner may withdraw.
	_, err := f.house.Withdraw(f.lotID, idA, b)
	require.ErrorIs(err, ErrNotBidder)

	refund, err := f.house.Withdraw(f.lotID, idA, a)
	require.NoError(err)
	require.Equal(e18(100).String(), refund.String())

	// Twice is a wrong-state error.
	_, err = f.house.Withdraw(f.lotID, idA, a)
	require.ErrorIs(err, ErrWrongState)

	f.conclude()

	// Withdrawal after conclusion is rejected.
	_, err = f.house.Withdraw(f.lotID, 2, b)
	require.ErrorIs(err, ErrBiddingClosed)

	// The withdrawn bid is gone from the decryption index.
	f.decryptAll(t)
	view, _ := f.house.GetLot(f.lotID)
	require.Equal(1, view.LiveBidCount)
	require.Equal(LotDecrypted, view.Status)

	res := f.settleAll(t)
	require.True(res.Cleared)

	// Withdrawn bids do not appear in the claims vector.
	claims, err := f.house.Claims(f.lotID)
	require.NoError(err)
	require.Len(claims, 1)
	require.Equal(uint64(2), claims[0].BidID)

	// And cannot be claimed again.
	_, err = f.house.Claim(f.lotID, idA, a)
	require.ErrorIs(err, ErrWrongState)
}

func TestSubmitValidation(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	salt := BidSalt(f.lotID, a, e18(10))
	ct, eph, err := ecies.Encrypt(e18(3), f.pub, salt)
	require.NoError(err)

	// Invalid ephemeral key.
	badPoint := ecies.Point{X: uint256.NewInt(1), Y: uint256.NewInt(1)}
	_, err = f.house.SubmitBid(f.lotID, a, ids.EmptyAddress, ids.EmptyAddress, e18(10), ct, badPoint)
	require.ErrorIs(err, ErrInvalidBid)

	// Zero amount.
	_, err = f.house.SubmitBid(f.lotID, a, ids.EmptyAddress, ids.EmptyAddress, uint256.NewInt(0), ct, eph)
	require.ErrorIs(err, ErrInvalidBid)

	// Unknown lot.
	_, err = f.house.SubmitBid(99, a, ids.EmptyAddress, ids.EmptyAddress, e18(10), ct, eph)
	require.ErrorIs(err, ErrLotNotFound)

	// After conclusion.
	f.conclude()
	_, err = f.house.SubmitBid(f.lotID, a, ids.EmptyAddress, ids.EmptyAddress, e18(10), ct, eph)
	require.ErrorIs(err, ErrBiddingClosed)
}

func TestCreateLotValidation(t *testing.T) {
	require := require.New(t)

	_, pub, err := ecies.GenerateKeyPair()
	require.NoError(err)

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	house := NewHouse(log.NoOp())
	house.SetClock(clock.Now)

	base := Params{
		Seller:        ids.GenerateTestAddress(),
		Capacity:      e18(100),
		Conclusion:    clock.Now().Add(time.Hour),
		BaseDecimals:  18,
		QuoteDecimals: 18,
		MinPrice:      e18(2),
		PublicKey:     pub,
	}

	p := base
	p.Capacity = uint256.NewInt(0)
	_, err = house.CreateLot(p)
	require.ErrorIs(err, ErrInvalidParams)

	p = base
	p.MinPrice = uint256.NewInt(0)
	_, err = house.CreateLot(p)
	require.ErrorIs(err, ErrInvalidParams)

	p = base
	p.BaseDecimals = 30
	_, err = house.CreateLot(p)
	require.ErrorIs(err, ErrInvalidParams)

	p = base
	p.MinFillBps = 10_001
	_, err = house.CreateLot(p)
	require.ErrorIs(err, ErrInvalidParams)

	p = base
	p.PublicKey = ecies.Point{X: uint256.NewInt(1), Y: uint256.NewInt(1)}
	_, err = house.CreateLot(p)
	require.ErrorIs(err, ErrInvalidParams)

	p = base
	p.Conclusion = clock.Now().Add(-time.Hour)
	_, err = house.CreateLot(p)
	require.ErrorIs(err, ErrInvalidParams)

	_, err = house.CreateLot(base)
	require.NoError(err)
}

func TestCancelLot(t *testing.T) {
	require := require.New(t)

	_, pub, err := ecies.GenerateKeyPair()
	require.NoError(err)

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	house := NewHouse(log.NoOp())
	house.SetClock(clock.Now)

	seller := ids.GenerateTestAddress()
	lotID, err := house.CreateLot(Params{
		Seller:        seller,
		Capacity:      e18(100),
		Start:         clock.Now().Add(time.Hour),
		Conclusion:    clock.Now().Add(2 * time.Hour),
		BaseDecimals:  18,
		QuoteDecimals: 18,
		MinPrice:      e18(2),
		PublicKey:     pub,
	})
	require.NoError(err)

	// Only the seller may cancel.
	require.ErrorIs(house.CancelLot(lotID, ids.GenerateTestAddress()), ErrNotSeller)

	require.NoError(house.CancelLot(lotID, seller))

	view, err := house.GetLot(lotID)
	require.NoError(err)
	require.Equal(LotSettled, view.Status)
	require.True(view.Capacity.IsZero())
	require.False(view.Result.Cleared)

	// Cancelled twice is a wrong-state error.
	require.ErrorIs(house.CancelLot(lotID, seller), ErrWrongState)

	// Cancellation after the window opens is rejected.
	lotID2, err := house.CreateLot(Params{
		Seller:        seller,
		Capacity:      e18(100),
		Conclusion:    clock.Now().Add(2 * time.Hour),
		BaseDecimals:  18,
		QuoteDecimals: 18,
		MinPrice:      e18(2),
		PublicKey:     pub,
	})
	require.NoError(err)
	clock.Advance(time.Minute)
	require.ErrorIs(house.CancelLot(lotID2, seller), ErrAlreadyStarted)
}

func TestClaimAuthorizationAndFinality(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	a := ids.GenerateTestAddress()
	idA := f.bid(t, a, e18(60), e18(3))

	// Claims are unavailable before settlement.
	_, err := f.house.Claims(f.lotID)
	require.ErrorIs(err, ErrWrongState)

	f.conclude()
	f.decryptAll(t)
	f.settleAll(t)

	_, err = f.house.Claim(f.lotID, idA, ids.GenerateTestAddress())
	require.ErrorIs(err, ErrNotBidder)

	cl, err := f.house.Claim(f.lotID, idA, a)
	require.NoError(err)
	require.Equal(e18(20).String(), cl.Payout.String())
	require.Equal("0", cl.Refund.String())

	// Claiming twice is rejected.
	_, err = f.house.Claim(f.lotID, idA, a)
	require.ErrorIs(err, ErrWrongState)
}
