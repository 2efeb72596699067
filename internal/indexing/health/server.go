package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/infra/storage"
)

const maxOffersLimit = 1000

// Server provides HTTP endpoints for health monitoring and offer lookups.
type Server struct {
	monitor *Monitor
	offers  storage.OfferReader
	server  *http.Server
}

// NewServer creates a new health server.
func NewServer(monitor *Monitor, offers storage.OfferReader, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		monitor: monitor,
		offers:  offers,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.HandleFunc("/offers", s.handleOffers)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.monitor.CheckHealth(r.Context())

	code := http.StatusOK
	if report.SystemStatus == StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.CheckHealth(r.Context()))
}

// offerResponse is the JSON shape of an offer.
type offerResponse struct {
	ID           int64     `json:"id"`
	DomainName   string    `json:"domain_name"`
	Buyer        string    `json:"buyer"`
	InitialValue string    `json:"initial_value"`
	Value        string    `json:"value"`
	Owner        *string   `json:"owner"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastTxDigest string    `json:"last_tx_digest"`
}

func toOfferResponse(o *domain.Offer) offerResponse {
	return offerResponse{
		ID:           o.ID,
		DomainName:   o.DomainName,
		Buyer:        o.Buyer,
		InitialValue: o.InitialValue.String(),
		Value:        o.Value.String(),
		Owner:        o.Owner,
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		LastTxDigest: o.LastTxDigest,
	}
}

// handleOffers serves GET /offers?domain=<name>[&buyer=<address>][&limit=<n>].
// With a buyer it returns the canonical offer of the pair, otherwise the
// domain's offers newest first.
func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	domainName := q.Get("domain")
	if domainName == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	if buyer := q.Get("buyer"); buyer != "" {
		offer, err := s.offers.Latest(r.Context(), domainName, buyer)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if offer == nil {
			writeError(w, http.StatusNotFound, "offer not found")
			return
		}
		writeJSON(w, http.StatusOK, toOfferResponse(offer))
		return
	}

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxOffersLimit {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxOffersLimit))
			return
		}
		limit = n
	}

	offers, err := s.offers.ListByDomain(r.Context(), domainName, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]offerResponse, 0, len(offers))
	for _, o := range offers {
		out = append(out, toOfferResponse(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
