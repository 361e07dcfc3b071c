// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package empasdk is the Go client for the auction house API. Besides plain
// endpoint wrappers it carries the two client-side rituals: sealing a bid
// before submission, and the off-chain decryption loop that feeds sealed
// bids back with precomputed queue hints.
package empasdk

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"

	"github.com/sealedbid/empa/api"
	"github.com/sealedbid/empa/auction"
	empacrypto "github.com/sealedbid/empa/crypto"
	"github.com/sealedbid/empa/pkg/ecies"
	"github.com/sealedbid/empa/pkg/ids"
)

// Client talks to one auction house.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%s)", req.Method, req.URL.Path, apiErr.Error, resp.Status)
		}
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateLot registers a new lot and returns its id.
func (c *Client) CreateLot(ctx context.Context, req api.CreateLotRequest) (uint64, error) {
	var resp api.CreateLotResponse
	if err := c.post(ctx, "/v1/lots", req, &resp); err != nil {
		return 0, err
	}
	return resp.LotID, nil
}

// GetLot fetches the public view of a lot.
func (c *Client) GetLot(ctx context.Context, lotID uint64) (*api.LotJSON, error) {
	var lot api.LotJSON
	if err := c.get(ctx, fmt.Sprintf("/v1/lots/%d", lotID), &lot); err != nil {
		return nil, err
	}
	return &lot, nil
}

// GetBid fetches the public view of one bid.
func (c *Client) GetBid(ctx context.Context, lotID, bidID uint64) (*api.BidJSON, error) {
	var bid api.BidJSON
	if err := c.get(ctx, fmt.Sprintf("/v1/lots/%d/bids/%d", lotID, bidID), &bid); err != nil {
		return nil, err
	}
	return &bid, nil
}

// SubmitSealedBid seals price under the lot's public key and submits the
// bid, returning the assigned bid id. The salt binds the ciphertext to this
// lot, bidder, and amount.
func (c *Client) SubmitSealedBid(ctx context.Context, lotID uint64, bidder ids.Address, amount, price *uint256.Int, lotPub ecies.Point) (uint64, error) {
	salt := auction.BidSalt(lotID, bidder, amount)
	ct, eph, err := ecies.Encrypt(price, lotPub, salt)
	if err != nil {
		return 0, fmt.Errorf("seal bid: %w", err)
	}

	var resp api.SubmitBidResponse
	err = c.post(ctx, fmt.Sprintf("/v1/lots/%d/bids", lotID), api.SubmitBidRequest{
		Bidder:       bidder.String(),
		AmountIn:     amount.Dec(),
		Ciphertext:   "0x" + hex.EncodeToString(ct[:]),
		EphemeralKey: api.FromPoint(eph),
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.BidID, nil
}

// Withdraw removes a sealed bid before the lot concludes.
func (c *Client) Withdraw(ctx context.Context, lotID, bidID uint64, caller ids.Address) (*uint256.Int, error) {
	var resp api.WithdrawResponse
	err := c.post(ctx, fmt.Sprintf("/v1/lots/%d/bids/%d/withdraw", lotID, bidID),
		api.WithdrawRequest{Caller: caller.String()}, &resp)
	if err != nil {
		return nil, err
	}
	return uint256.FromDecimal(resp.Refund)
}

// CancelLot signs the cancel payload with the seller key and aborts the lot.
func (c *Client) CancelLot(ctx context.Context, lotID uint64, sellerKey *ecdsa.PrivateKey) error {
	sig, err := empacrypto.SignCancel(sellerKey, lotID)
	if err != nil {
		return err
	}
	return c.post(ctx, fmt.Sprintf("/v1/lots/%d/cancel", lotID), api.CancelLotRequest{
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil)
}

// SubmitKey reveals the lot's ECIES private key after conclusion.
func (c *Client) SubmitKey(ctx context.Context, lotID uint64, priv *big.Int) error {
	return c.post(ctx, fmt.Sprintf("/v1/lots/%d/key", lotID), api.SubmitKeyRequest{
		PrivateKey: scalarHex(priv),
	}, nil)
}

// PendingBids fetches up to count still-sealed bids from the decryption
// cursor.
func (c *Client) PendingBids(ctx context.Context, lotID uint64, count int) ([]api.PendingBidJSON, error) {
	var resp struct {
		Pending []api.PendingBidJSON `json:"pending"`
	}
	err := c.get(ctx, fmt.Sprintf("/v1/lots/%d/pending?count=%d", lotID, count), &resp)
	if err != nil {
		return nil, err
	}
	return resp.Pending, nil
}

// DecryptBatch submits one decryption batch with optional hints.
func (c *Client) DecryptBatch(ctx context.Context, lotID uint64, priv *big.Int, count int, hints []api.HintJSON) (*api.DecryptResponse, error) {
	var resp api.DecryptResponse
	err := c.post(ctx, fmt.Sprintf("/v1/lots/%d/decrypt", lotID), api.DecryptRequest{
		PrivateKey: scalarHex(priv),
		Count:      count,
		Hints:      hints,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// queuedKey orders decrypted bids the way the settlement queue does: higher
// value first, earlier bid id breaking ties.
type queuedKey struct {
	value *uint256.Int
	bidID uint64
}

func (k queuedKey) ahead(other queuedKey) bool {
	switch k.value.Cmp(other.value) {
	case 1:
		return true
	case -1:
		return false
	}
	return k.bidID < other.bidID
}

// RunDecryption drives a lot's decryption to completion in batches of
// batchSize: it peeks at the sealed bids, decrypts them locally, derives a
// queue hint for each from the bids already fed in, and submits the batch.
// Returns the total number of bids decrypted.
func (c *Client) RunDecryption(ctx context.Context, lotID uint64, priv *big.Int, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 64
	}

	lot, err := c.GetLot(ctx, lotID)
	if err != nil {
		return 0, err
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(lot.BaseDecimals)))

	var known []queuedKey // everything fed to the queue so far, unsorted
	total := 0
	for {
		pending, err := c.PendingBids(ctx, lotID, batchSize)
		if err != nil {
			return total, err
		}
		if len(pending) == 0 {
			return total, nil
		}

		hints := make([]api.HintJSON, 0, len(pending))
		for _, p := range pending {
			value, err := decryptPending(p, priv)
			if err != nil {
				// The engine treats an undecryptable bid as unfillable;
				// mirror that with an empty hint.
				hints = append(hints, api.HintJSON{})
				continue
			}
			key := queuedKey{value: value, bidID: p.BidID}
			hints = append(hints, c.hintFor(known, key))

			if willQueue(p, value, scale) {
				known = append(known, key)
			}
		}

		resp, err := c.DecryptBatch(ctx, lotID, priv, len(pending), hints)
		if err != nil {
			return total, err
		}
		total += resp.Decrypted
		if resp.Remaining == 0 {
			return total, nil
		}
	}
}

// hintFor picks the tightest known key still ahead of k, or the empty hint
// when k belongs at the head.
func (c *Client) hintFor(known []queuedKey, k queuedKey) api.HintJSON {
	var best *queuedKey
	for i := range known {
		cand := known[i]
		if !cand.ahead(k) {
			continue
		}
		if best == nil || best.ahead(cand) {
			best = &known[i]
		}
	}
	if best == nil {
		return api.HintJSON{}
	}
	return api.HintJSON{Value: best.value.Dec(), BidID: best.bidID}
}

func decryptPending(p api.PendingBidJSON, priv *big.Int) (*uint256.Int, error) {
	ctRaw, err := hex.DecodeString(strings.TrimPrefix(p.Ciphertext, "0x"))
	if err != nil || len(ctRaw) != 32 {
		return nil, fmt.Errorf("bad ciphertext for bid %d", p.BidID)
	}
	saltRaw, err := hex.DecodeString(strings.TrimPrefix(p.Salt, "0x"))
	if err != nil || len(saltRaw) != 32 {
		return nil, fmt.Errorf("bad salt for bid %d", p.BidID)
	}
	eph, err := p.EphemeralKey.ToPoint()
	if err != nil {
		return nil, err
	}

	var ct, salt [32]byte
	copy(ct[:], ctRaw)
	copy(salt[:], saltRaw)
	return ecies.Decrypt(ct, eph, priv, salt)
}

// willQueue mirrors the engine's unfillable-bid checks.
func willQueue(p api.PendingBidJSON, value, scale *uint256.Int) bool {
	if value.IsZero() {
		return false
	}
	amount, err := uint256.FromDecimal(p.AmountIn)
	if err != nil {
		return false
	}
	out := new(uint256.Int).Mul(amount, scale)
	out.Div(out, value)
	return !out.IsZero()
}

// Settle advances the settlement scan by count bids.
func (c *Client) Settle(ctx context.Context, lotID uint64, count int) (*api.SettlementJSON, error) {
	var resp api.SettlementJSON
	err := c.post(ctx, fmt.Sprintf("/v1/lots/%d/settle", lotID), api.SettleRequest{Count: count}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SettleAll drives settlement to the finish in batches of batchSize.
func (c *Client) SettleAll(ctx context.Context, lotID uint64, batchSize int) (*api.SettlementJSON, error) {
	if batchSize <= 0 {
		batchSize = 64
	}
	for {
		res, err := c.Settle(ctx, lotID, batchSize)
		if err != nil {
			return nil, err
		}
		if res.Finished {
			return res, nil
		}
	}
}

// Claims fetches the settled lot's full claim vector.
func (c *Client) Claims(ctx context.Context, lotID uint64) ([]api.ClaimJSON, error) {
	var resp struct {
		Claims []api.ClaimJSON `json:"claims"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v1/lots/%d/claims", lotID), &resp); err != nil {
		return nil, err
	}
	return resp.Claims, nil
}

// Claim settles one bid's proceeds.
func (c *Client) Claim(ctx context.Context, lotID, bidID uint64, caller ids.Address) (*api.ClaimJSON, error) {
	var resp api.ClaimJSON
	err := c.post(ctx, fmt.Sprintf("/v1/lots/%d/bids/%d/claim", lotID, bidID),
		api.WithdrawRequest{Caller: caller.String()}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubscribeEvents opens the lot's websocket feed. The returned channel
// closes when the connection drops or ctx is cancelled.
func (c *Client) SubscribeEvents(ctx context.Context, lotID uint64) (<-chan api.Event, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/v1/lots/%d/events", wsURL, lotID), nil)
	if err != nil {
		return nil, err
	}

	events := make(chan api.Event, 16)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev api.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return events, nil
}

func scalarHex(priv *big.Int) string {
	return "0x" + fmt.Sprintf("%064x", priv)
}
