// Package httpapi exposes the overlay event streams and operational endpoints.
package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/hub"
	"buywatch/internal/ingestion"
	"buywatch/internal/marketdata"
)

// FakeWallet is the wallet reported by synthetic buys.
const FakeWallet = "FAKE_WALLET_TEST"

// MarketSource reports the cached market data.
type MarketSource interface {
	Snapshot() marketdata.Snapshot
}

// StreamStatus reports the upstream connection state.
type StreamStatus interface {
	State() ingestion.State
}

// Options contains configuration for creating the router.
type Options struct {
	Hub       *hub.Hub
	Market    MarketSource
	Stream    StreamStatus
	Build     string
	PublicDir string
	Metrics   http.Handler // optional
	Logger    *zap.Logger
}

type server struct {
	hub       *hub.Hub
	market    MarketSource
	stream    StreamStatus
	build     string
	publicDir string
	logger    *zap.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(opts Options) http.Handler {
	s := &server{
		hub:       opts.Hub,
		market:    opts.Market,
		stream:    opts.Stream,
		build:     opts.Build,
		publicDir: opts.PublicDir,
		logger:    opts.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.hub.ServeSSE)
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/debug/fake-buy", s.handleFakeBuy)
	mux.HandleFunc("/overlay", s.handleOverlay)
	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}
	if s.publicDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.publicDir)))
	}

	return withCORS(mux)
}

// withCORS allows any origin; overlays are loaded from streaming software.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET,HEAD,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HealthResponse is the JSON response for /health.
type HealthResponse struct {
	OK          bool    `json:"ok"`
	PairAddress *string `json:"pairAddress"`
	PriceNative float64 `json:"priceNative"`
	LastMC      float64 `json:"lastMC"`
	Build       string  `json:"build"`
	Subscribers int     `json:"subscribers"`
	Stream      string  `json:"stream"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.market.Snapshot()

	resp := HealthResponse{
		OK:          true,
		PriceNative: snap.PriceNative,
		LastMC:      s.hub.LastMarketCap(),
		Build:       s.build,
		Subscribers: s.hub.Count(),
	}
	if snap.PairAddress != "" {
		pair := snap.PairAddress
		resp.PairAddress = &pair
	}
	if s.stream != nil {
		resp.Stream = s.stream.State().String()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleFakeBuy(w http.ResponseWriter, r *http.Request) {
	amount := 1.0
	if raw := strings.TrimSpace(r.URL.Query().Get("sol")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "sol must be a number"})
			return
		}
		amount = v
	}

	if level := domain.LevelFor(amount); level > 0 {
		s.hub.Publish(domain.BuyEvent{
			Wallet:    FakeWallet,
			AmountSol: amount,
			Level:     level,
			Source:    domain.SourceDebug,
		})
		s.logger.Info("fake buy", zap.Float64("amount_sol", amount), zap.Int("level", int(level)))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.publicDir, "overlay", "index.html"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
