// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sealedbid/empa/auction"
	empacrypto "github.com/sealedbid/empa/crypto"
	"github.com/sealedbid/empa/pkg/ecies"
	"github.com/sealedbid/empa/pkg/ids"
	"github.com/sealedbid/empa/pkg/log"
	"github.com/sealedbid/empa/pkg/metric"
	"github.com/sealedbid/empa/pkg/queue"
	"github.com/sealedbid/empa/pkg/storage"
)

// Server glues the auction house to its HTTP surfaces. store may be nil, in
// which case nothing is persisted.
type Server struct {
	house   *auction.House
	store   *storage.Store
	metrics *metric.Metrics
	hub     *Hub
	log     log.Logger
}

// NewServer wires the public API around a house.
func NewServer(house *auction.House, store *storage.Store, m *metric.Metrics, logger log.Logger) *Server {
	return &Server{
		house:   house,
		store:   store,
		metrics: m,
		hub:     NewHub(logger),
		log:     logger,
	}
}

// Hub exposes the event hub so the daemon can stop it on shutdown.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router builds the public gin router.
func (s *Server) Router(env string, origins []string) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())

	config := cors.DefaultConfig()
	if len(origins) > 0 {
		config.AllowOrigins = origins
	} else {
		config.AllowAllOrigins = true
	}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Request-Id"}
	router.Use(cors.New(config))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/lots", s.handleCreateLot)
		v1.GET("/lots", s.handleListLots)
		v1.GET("/lots/:id", s.handleGetLot)
		v1.POST("/lots/:id/cancel", s.handleCancelLot)

		v1.POST("/lots/:id/bids", s.handleSubmitBid)
		v1.GET("/lots/:id/bids/:bid", s.handleGetBid)
		v1.POST("/lots/:id/bids/:bid/withdraw", s.handleWithdraw)

		v1.POST("/lots/:id/key", s.handleSubmitKey)
		v1.GET("/lots/:id/pending", s.handlePending)
		v1.POST("/lots/:id/decrypt", s.handleDecrypt)
		v1.POST("/lots/:id/settle", s.handleSettle)

		v1.GET("/lots/:id/claims", s.handleClaims)
		v1.POST("/lots/:id/bids/:bid/claim", s.handleClaim)

		v1.GET("/lots/:id/events", s.handleEvents)
	}

	return router
}

// AdminRouter builds the operational listener: liveness and metrics.
func (s *Server) AdminRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	}).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.GetGatherer(), promhttp.HandlerOpts{})).Methods("GET")
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// Handlers

func (s *Server) handleCreateLot(c *gin.Context) {
	var req CreateLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	seller, err := ids.AddressFromString(req.Seller)
	if err != nil {
		badRequest(c, fmt.Errorf("seller: %w", err))
		return
	}
	capacity, err := parseAmount(req.Capacity)
	if err != nil {
		badRequest(c, fmt.Errorf("capacity: %w", err))
		return
	}
	minPrice, err := parseAmount(req.MinPrice)
	if err != nil {
		badRequest(c, fmt.Errorf("min_price: %w", err))
		return
	}
	var minBidSize *uint256.Int
	if req.MinBidSize != "" {
		if minBidSize, err = parseAmount(req.MinBidSize); err != nil {
			badRequest(c, fmt.Errorf("min_bid_size: %w", err))
			return
		}
	}
	pub, err := req.PublicKey.ToPoint()
	if err != nil {
		badRequest(c, err)
		return
	}

	lotID, err := s.house.CreateLot(auction.Params{
		Seller:        seller,
		Capacity:      capacity,
		Start:         req.Start,
		Conclusion:    req.Conclusion,
		BaseDecimals:  req.BaseDecimals,
		QuoteDecimals: req.QuoteDecimals,
		MinPrice:      minPrice,
		MinFillBps:    req.MinFillBps,
		MinBidSize:    minBidSize,
		PublicKey:     pub,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	s.metrics.LotsCreated.Inc()
	s.persist(lotID)
	s.hub.Publish(Event{Type: EventLotCreated, LotID: lotID, At: time.Now()})
	c.JSON(http.StatusCreated, CreateLotResponse{LotID: lotID})
}

func (s *Server) handleListLots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"lot_ids": s.house.LotIDs()})
}

func (s *Server) handleGetLot(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	view, err := s.house.GetLot(lotID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lotJSON(view))
}

func (s *Server) handleCancelLot(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	var req CancelLotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		badRequest(c, fmt.Errorf("signature: %w", err))
		return
	}
	signer, err := empacrypto.RecoverCancelSigner(lotID, sig)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := s.house.CancelLot(lotID, signer); err != nil {
		writeError(c, err)
		return
	}

	s.metrics.LotsCancelled.Inc()
	s.persist(lotID)
	s.hub.Publish(Event{Type: EventLotCancelled, LotID: lotID, At: time.Now()})
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) handleSubmitBid(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	var req SubmitBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	bidder, err := ids.AddressFromString(req.Bidder)
	if err != nil {
		badRequest(c, fmt.Errorf("bidder: %w", err))
		return
	}
	recipient := ids.EmptyAddress
	if req.Recipient != "" {
		if recipient, err = ids.AddressFromString(req.Recipient); err != nil {
			badRequest(c, fmt.Errorf("recipient: %w", err))
			return
		}
	}
	referrer := ids.EmptyAddress
	if req.Referrer != "" {
		if referrer, err = ids.AddressFromString(req.Referrer); err != nil {
			badRequest(c, fmt.Errorf("referrer: %w", err))
			return
		}
	}
	amount, err := parseAmount(req.AmountIn)
	if err != nil {
		badRequest(c, fmt.Errorf("amount_in: %w", err))
		return
	}
	ct, err := parseCiphertext(req.Ciphertext)
	if err != nil {
		badRequest(c, err)
		return
	}
	eph, err := req.EphemeralKey.ToPoint()
	if err != nil {
		badRequest(c, err)
		return
	}

	bidID, err := s.house.SubmitBid(lotID, bidder, recipient, referrer, amount, ct, eph)
	if err != nil {
		writeError(c, err)
		return
	}

	s.metrics.BidsSubmitted.Inc()
	s.persist(lotID)
	s.hub.Publish(Event{Type: EventBidSubmitted, LotID: lotID, BidID: bidID, At: time.Now()})
	c.JSON(http.StatusCreated, SubmitBidResponse{BidID: bidID})
}

func (s *Server) handleGetBid(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	bidID, ok := s.bidID(c)
	if !ok {
		return
	}
	view, err := s.house.GetBid(lotID, bidID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, bidJSON(view))
}

func (s *Server) handleWithdraw(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	bidID, ok := s.bidID(c)
	if !ok {
		return
	}
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	caller, err := ids.AddressFromString(req.Caller)
	if err != nil {
		badRequest(c, fmt.Errorf("caller: %w", err))
		return
	}

	refund, err := s.house.Withdraw(lotID, bidID, caller)
	if err != nil {
		writeError(c, err)
		return
	}

	s.metrics.BidsWithdrawn.Inc()
	s.persist(lotID)
	s.hub.Publish(Event{Type: EventBidWithdrawn, LotID: lotID, BidID: bidID, At: time.Now()})
	c.JSON(http.StatusOK, WithdrawResponse{Refund: refund.Dec()})
}

func (s *Server) handleSubmitKey(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	var req SubmitKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	priv, err := parseScalar(req.PrivateKey)
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := s.house.SubmitPrivateKey(lotID, priv); err != nil {
		writeError(c, err)
		return
	}

	s.persist(lotID)
	s.hub.Publish(Event{Type: EventKeyRevealed, LotID: lotID, At: time.Now()})
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (s *Server) handlePending(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	n := 64
	if raw := c.Query("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			badRequest(c, errors.New("count must be a positive integer"))
			return
		}
		n = parsed
	}

	pending, err := s.house.PeekUndecrypted(lotID, n)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]PendingBidJSON, 0, len(pending))
	for _, p := range pending {
		out = append(out, PendingBidJSON{
			BidID:        p.BidID,
			Bidder:       p.Bidder.String(),
			AmountIn:     p.AmountIn.Dec(),
			Ciphertext:   "0x" + hex.EncodeToString(p.Ciphertext[:]),
			EphemeralKey: FromPoint(p.EphemeralKey),
			Salt:         "0x" + hex.EncodeToString(p.Salt[:]),
		})
	}
	c.JSON(http.StatusOK, gin.H{"pending": out})
}

func (s *Server) handleDecrypt(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	var req DecryptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	priv, err := parseScalar(req.PrivateKey)
	if err != nil {
		badRequest(c, err)
		return
	}
	hints := make([]queue.Key, 0, len(req.Hints))
	for _, h := range req.Hints {
		if h.BidID == 0 {
			hints = append(hints, queue.Key{})
			continue
		}
		value, err := parseAmount(h.Value)
		if err != nil {
			badRequest(c, fmt.Errorf("hint value: %w", err))
			return
		}
		hints = append(hints, queue.KeyFor(value, h.BidID))
	}

	start := time.Now()
	n, err := s.house.DecryptBatch(lotID, priv, req.Count, hints)
	if err != nil {
		writeError(c, err)
		return
	}
	s.metrics.DecryptBatchDuration.Observe(time.Since(start).Seconds())
	s.metrics.BidsDecrypted.Add(float64(n))

	view, err := s.house.GetLot(lotID)
	if err != nil {
		writeError(c, err)
		return
	}
	if view.Status == auction.LotDecrypted {
		s.metrics.LotsDecrypted.Inc()
		s.hub.Publish(Event{Type: EventLotDecrypted, LotID: lotID, At: time.Now()})
	}
	s.persist(lotID)
	c.JSON(http.StatusOK, DecryptResponse{
		Decrypted: n,
		Remaining: view.RemainingDecrypts,
		Status:    view.Status.String(),
	})
}

func (s *Server) handleSettle(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	start := time.Now()
	res, err := s.house.SettleBatch(lotID, req.Count)
	if err != nil {
		writeError(c, err)
		return
	}
	s.metrics.SettleBatchDuration.Observe(time.Since(start).Seconds())

	if res.Finished {
		s.metrics.LotsSettled.Inc()
		if res.Cleared {
			s.metrics.LotsCleared.Inc()
		}
		s.hub.Publish(Event{Type: EventLotSettled, LotID: lotID, At: time.Now()})
	}
	s.persist(lotID)
	c.JSON(http.StatusOK, settlementJSON(res))
}

func (s *Server) handleClaims(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	claims, err := s.house.Claims(lotID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]ClaimJSON, 0, len(claims))
	for _, cl := range claims {
		out = append(out, claimJSON(cl))
	}
	c.JSON(http.StatusOK, gin.H{"claims": out})
}

func (s *Server) handleClaim(c *gin.Context) {
	lotID, ok := s.lotID(c)
	if !ok {
		return
	}
	bidID, ok := s.bidID(c)
	if !ok {
		return
	}
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	caller, err := ids.AddressFromString(req.Caller)
	if err != nil {
		badRequest(c, fmt.Errorf("caller: %w", err))
		return
	}

	claim, err := s.house.Claim(lotID, bidID, caller)
	if err != nil {
		writeError(c, err)
		return
	}

	s.metrics.ClaimsPaid.Inc()
	s.persist(lotID)
	s.hub.Publish(Event{Type: EventBidClaimed, LotID: lotID, BidID: bidID, At: time.Now()})
	c.JSON(http.StatusOK, claimJSON(claim))
}

// persist writes the lot snapshot through when a store is attached.
func (s *Server) persist(lotID uint64) {
	if s.store == nil {
		return
	}
	snap, err := s.house.SnapshotLot(lotID)
	if err != nil {
		s.log.Error(fmt.Sprintf("snapshot lot %d: %v", lotID, err))
		return
	}
	if err := s.store.PutLot(snap); err != nil {
		s.log.Error(fmt.Sprintf("persist lot %d: %v", lotID, err))
	}
}

func (s *Server) lotID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, errors.New("bad lot id"))
		return 0, false
	}
	return id, true
}

func (s *Server) bidID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("bid"), 10, 64)
	if err != nil {
		badRequest(c, errors.New("bad bid id"))
		return 0, false
	}
	return id, true
}

func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, errors.New("empty amount")
	}
	return uint256.FromDecimal(s)
}

func parseCiphertext(s string) ([32]byte, error) {
	var ct [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return ct, fmt.Errorf("ciphertext: %w", err)
	}
	if len(raw) != 32 {
		return ct, errors.New("ciphertext must be 32 bytes")
	}
	copy(ct[:], raw)
	return ct, nil
}

func parseScalar(s string) (*big.Int, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	return new(big.Int).SetBytes(raw), nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// writeError maps domain errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auction.ErrLotNotFound), errors.Is(err, auction.ErrBidNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auction.ErrNotSeller), errors.Is(err, auction.ErrNotBidder):
		status = http.StatusForbidden
	case errors.Is(err, auction.ErrInvalidParams), errors.Is(err, auction.ErrInvalidBid),
		errors.Is(err, auction.ErrBidTooSmall):
		status = http.StatusBadRequest
	case errors.Is(err, auction.ErrWrongState), errors.Is(err, auction.ErrNotStarted),
		errors.Is(err, auction.ErrBiddingClosed), errors.Is(err, auction.ErrLotActive),
		errors.Is(err, auction.ErrAlreadyStarted), errors.Is(err, auction.ErrNotDecrypted):
		status = http.StatusConflict
	case errors.Is(err, ecies.ErrKeyMismatch), errors.Is(err, ecies.ErrInvalidScalar),
		errors.Is(err, ecies.ErrInvalidPoint):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
