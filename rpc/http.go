package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"vestpay/core/ledger"
	"vestpay/core/state"
	"vestpay/native/vesting"
	"vestpay/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	codeVestingNotFound  = -32021
	codeVestingForbidden = -32022
	codeVestingConflict  = -32023
)

// Server exposes the settlement engine over JSON-RPC. It plays the host role:
// it authenticates callers by address, resolves observed balances from the
// ledger, invokes the engine with an explicit timestamp and executes the
// returned transfer instructions. A single mutex serialises mutating
// operations, matching the engine's single-writer contract.
type Server struct {
	engine  *vesting.Engine
	store   *state.VestingStore
	ledger  *ledger.Ledger
	escrow  [20]byte
	logger  *slog.Logger
	metrics *observability.VestingMetrics

	mu    sync.Mutex
	nowFn func() int64

	authToken string

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	rateBurst int
}

// ServerConfig carries the host-level knobs for the RPC surface.
type ServerConfig struct {
	AuthToken         string
	RequestsPerMinute float64
	RateBurst         int
}

// NewServer wires the RPC host around the engine, its persistence and the
// balance book. The escrow address is the account deposits land on.
func NewServer(engine *vesting.Engine, store *state.VestingStore, book *ledger.Ledger, escrow [20]byte, logger *slog.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	return &Server{
		engine:    engine,
		store:     store,
		ledger:    book,
		escrow:    escrow,
		logger:    logger,
		metrics:   observability.Metrics(),
		nowFn:     func() int64 { return time.Now().Unix() },
		authToken: strings.TrimSpace(cfg.AuthToken),
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: rate.Limit(perMinute / 60),
		rateBurst: burst,
	}
}

// SetNowFunc overrides the time source handed to the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (s *Server) SetNowFunc(now func() int64) {
	if now == nil {
		s.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	s.nowFn = now
}

// Router builds the HTTP routing table: the JSON-RPC endpoint plus a health
// probe.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/", s.handle)
	return r
}

// Start serves the JSON-RPC endpoint on addr and blocks.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a structured failure outcome so clients can present a
// precise message without parsing free text.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !s.allow(clientID(r)) {
		s.writeError(w, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	if s.authToken != "" {
		supplied := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
			s.writeError(w, nil, codeUnauthorized, "unauthorized", nil)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writeError(w, nil, codeParseError, "unable to read request body", nil)
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, codeParseError, "malformed JSON-RPC request", nil)
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		s.writeError(w, req.ID, codeInvalidRequest, "jsonrpc must be \"2.0\"", nil)
		return
	}

	started := time.Now()
	handler, ok := s.routes()[req.Method]
	if !ok {
		s.writeError(w, req.ID, codeMethodNotFound, "method not found: "+req.Method, nil)
		return
	}
	result, rpcErr := handler(&req)
	s.metrics.ObserveRequest(req.Method, started)
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	s.writeResult(w, req.ID, result)
}

type handlerFunc func(*RPCRequest) (interface{}, *RPCError)

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"vesting_fund":        s.handleFund,
		"vesting_claim":       s.handleClaim,
		"vesting_cancel":      s.handleCancel,
		"vesting_info":        s.handleInfo,
		"vesting_vested":      s.handleVested,
		"vesting_claimable":   s.handleClaimable,
		"vesting_totalToVest": s.handleTotalToVest,
		"vesting_duration":    s.handleDuration,
		"vesting_status":      s.handleStatus,
		"ledger_transfer":     s.handleLedgerTransfer,
		"ledger_balance":      s.handleLedgerBalance,
	}
}

func (s *Server) writeResult(w http.ResponseWriter, id, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}

func (s *Server) allow(client string) bool {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.rateBurst)
		s.limiters[client] = limiter
	}
	return limiter.Allow()
}

func jsonUnmarshalStrict(raw []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func clientID(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
