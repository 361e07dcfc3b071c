// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package auction

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/sealedbid/empa/pkg/ecies"
	"github.com/sealedbid/empa/pkg/ids"
	"github.com/sealedbid/empa/pkg/queue"
)

// BidSalt derives the per-bid encryption context from the public bid fields.
// Binding the ciphertext to (lot, bidder, amount) prevents a ciphertext from
// being replayed on another bid.
func BidSalt(lotID uint64, bidder ids.Address, amount *uint256.Int) [32]byte {
	var lotBytes [8]byte
	binary.BigEndian.PutUint64(lotBytes[:], lotID)
	amountBytes := amount.Bytes32()

	h := sha3.NewLegacyKeccak256()
	h.Write(lotBytes[:])
	h.Write(bidder.Bytes())
	h.Write(amountBytes[:])

	var salt [32]byte
	copy(salt[:], h.Sum(nil))
	return salt
}

// SubmitPrivateKey reveals the lot's private key. It is verified against the
// recorded public key exactly once; later calls with a key already stored
// are no-ops. The lot must have concluded.
func (h *House) SubmitPrivateKey(lotID uint64, priv *big.Int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return ErrLotNotFound
	}
	return h.storePrivateKey(lot, priv)
}

func (h *House) storePrivateKey(lot *Lot, priv *big.Int) error {
	if lot.privKey != nil {
		return nil
	}
	if lot.Status != LotCreated {
		return ErrWrongState
	}
	if h.now().Before(lot.Params.Conclusion) {
		return ErrLotActive
	}
	if err := ecies.VerifyKeyPair(priv, lot.Params.PublicKey); err != nil {
		return err
	}
	lot.privKey = new(big.Int).Set(priv)
	h.log.Info(fmt.Sprintf("private key accepted lot=%d", lot.ID))
	return nil
}

// DecryptBatch decrypts up to count sealed bids, feeding valid ones into the
// priority queue, and advances the decryption cursor. The count is clamped
// to the remaining work, so the call always makes progress; once every live
// bid is decrypted the lot moves to Decrypted. Calling with no remaining
// work is a no-op. hints[i] is an optional queue insertion hint for the i-th
// bid of this batch; a wrong hint costs extra walking, never correctness.
func (h *House) DecryptBatch(lotID uint64, priv *big.Int, count int, hints []queue.Key) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return 0, ErrLotNotFound
	}
	if lot.Status != LotCreated {
		// Already fully decrypted (or cancelled): nothing left to do.
		return 0, nil
	}
	if err := h.storePrivateKey(lot, priv); err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, nil
	}

	remaining := len(lot.liveIndex) - lot.nextDecryptIndex
	if count > remaining {
		count = remaining
	}

	scale := baseScale(lot.Params)
	for i := 0; i < count; i++ {
		bidID := lot.liveIndex[lot.nextDecryptIndex+i]
		bid := lot.bids[bidID]

		var hint queue.Key
		if i < len(hints) {
			hint = hints[i]
		}
		h.decryptBid(lot, bid, scale, hint)
	}
	lot.nextDecryptIndex += count

	if lot.nextDecryptIndex == len(lot.liveIndex) {
		lot.Status = LotDecrypted
		h.log.Info(fmt.Sprintf("lot decrypted id=%d queued=%d of %d",
			lot.ID, lot.queue.Len(), len(lot.liveIndex)))
	}
	return count, nil
}

// decryptBid unseals one bid and queues it if it passes the size checks. A
// bid is marked Decrypted exactly once regardless of outcome so it is never
// reprocessed; unqueued bids simply refund at claim time.
func (h *House) decryptBid(lot *Lot, bid *Bid, scale *uint256.Int, hint queue.Key) {
	salt := BidSalt(lot.ID, bid.Bidder, bid.AmountIn)
	value, err := ecies.Decrypt(bid.Ciphertext, bid.EphemeralKey, lot.privKey, salt)
	if err != nil {
		// Ephemeral key and private key were validated upstream; treat any
		// residual failure as an unfillable bid.
		bid.Status = BidDecrypted
		bid.Value = uint256.NewInt(0)
		return
	}
	bid.Status = BidDecrypted
	bid.Value = value

	// A zero price, or a price so high the tendered amount buys zero base
	// units, cannot fill anything; leave it out of the queue.
	if value.IsZero() {
		return
	}
	amountOut := new(uint256.Int).Mul(bid.AmountIn, scale)
	amountOut.Div(amountOut, value)
	if amountOut.IsZero() {
		return
	}

	err = lot.queue.Insert(hint, queue.Entry{
		BidID:    bid.ID,
		AmountIn: bid.AmountIn,
		Value:    value,
	})
	if err == queue.ErrInvalidHint {
		err = lot.queue.Insert(queue.Key{}, queue.Entry{
			BidID:    bid.ID,
			AmountIn: bid.AmountIn,
			Value:    value,
		})
	}
	if err != nil {
		h.log.Warn(fmt.Sprintf("bid not queued lot=%d bid=%d: %v", lot.ID, bid.ID, err))
		return
	}
	bid.Queued = true
}

// PeekUndecrypted returns the next n still-sealed bids from the decryption
// cursor so an off-chain decryptor can decrypt them and precompute queue
// hints before submitting a batch.
func (h *House) PeekUndecrypted(lotID uint64, n int) ([]PendingBid, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	lot, ok := h.lots[lotID]
	if !ok {
		return nil, ErrLotNotFound
	}
	remaining := len(lot.liveIndex) - lot.nextDecryptIndex
	if n > remaining {
		n = remaining
	}
	out := make([]PendingBid, 0, n)
	for i := 0; i < n; i++ {
		bid := lot.bids[lot.liveIndex[lot.nextDecryptIndex+i]]
		out = append(out, PendingBid{
			BidID:        bid.ID,
			Bidder:       bid.Bidder,
			AmountIn:     new(uint256.Int).Set(bid.AmountIn),
			Ciphertext:   bid.Ciphertext,
			EphemeralKey: bid.EphemeralKey,
			Salt:         BidSalt(lot.ID, bid.Bidder, bid.AmountIn),
		})
	}
	return out, nil
}
