package authority

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/alexandrut83/sentinel/sentinel"
)

// sightingHistorySize is the number of sightings retained in memory
const sightingHistorySize = 1000

// Sighting is a verification request the authority answered
type Sighting struct {
	Ref        string             `json:"ref"`
	ID         string             `json:"id"`
	Confirmed  bool               `json:"confirmed"`
	ObservedAt time.Time          `json:"observedAt"`
	ReceivedAt time.Time          `json:"receivedAt"`
	Location   *sentinel.Location `json:"location,omitempty"`
}

// ServerConfig configures the reference authority
type ServerConfig struct {
	// Token bucket on the sentinel endpoints: RefillRate tokens every Interval, up to Capacity.
	RefillRate int
	Interval   time.Duration
	Capacity   int
}

// DefaultServerConfig mirrors the production ingestion limits
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		RefillRate: 1000,
		Interval:   time.Minute,
		Capacity:   5000,
	}
}

// Server is an in-memory verification authority. It confirms ids present in
// its authoritative hot list and records every sighting.
type Server struct {
	mu        sync.RWMutex
	hotList   map[string]struct{}
	sightings []Sighting
	limiter   *rate.Limiter
	router    *mux.Router
	logger    *logrus.Entry
}

// NewServer creates an authority with an empty hot list
func NewServer(cfg ServerConfig, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	s := &Server{
		hotList:   make(map[string]struct{}),
		sightings: make([]Sighting, 0, sightingHistorySize),
		logger:    logger.WithField("component", "authority"),
	}
	if cfg.RefillRate > 0 && cfg.Interval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.Interval/time.Duration(cfg.RefillRate)), cfg.Capacity)
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimit)
	api.HandleFunc("/sentinel/verify", s.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/sightings", s.handleSightings).Methods(http.MethodGet)
	return r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// BulkLoad replaces the authoritative hot list
func (s *Server) BulkLoad(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}

	s.mu.Lock()
	s.hotList = next
	s.mu.Unlock()

	s.logger.WithField("entries", len(ids)).Info("authoritative hot list loaded")
}

// rateLimit rejects requests once the token bucket is empty
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.logger.WithField("path", r.URL.Path).Warn("rate limit exceeded")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":  "Too Many Requests",
				"reason": "token bucket exhausted",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req sentinel.VerificationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing required fields"})
		return
	}
	if req.ObservedAt.IsZero() {
		req.ObservedAt = time.Now()
	}

	s.mu.Lock()
	_, confirmed := s.hotList[req.ID]
	sighting := Sighting{
		Ref:        uuid.NewString(),
		ID:         req.ID,
		Confirmed:  confirmed,
		ObservedAt: req.ObservedAt,
		ReceivedAt: time.Now(),
		Location:   req.Location,
	}
	s.sightings = append(s.sightings, sighting)
	if len(s.sightings) > sightingHistorySize {
		s.sightings = s.sightings[1:]
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"id":        req.ID,
		"confirmed": confirmed,
		"ref":       sighting.Ref,
	}).Info("verification answered")

	writeJSON(w, http.StatusOK, sentinel.VerificationResponse{ID: req.ID, Confirmed: confirmed})
}

func (s *Server) handleSightings(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	confirmedOnly := r.URL.Query().Get("confirmed") == "true"

	writeJSON(w, http.StatusOK, s.Sightings(limit, confirmedOnly))
}

// Sightings returns up to limit sightings, newest first
func (s *Server) Sightings(limit int, confirmedOnly bool) []Sighting {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Sighting, 0, limit)
	for i := len(s.sightings) - 1; i >= 0 && len(out) < limit; i-- {
		if confirmedOnly && !s.sightings[i].Confirmed {
			continue
		}
		out = append(out, s.sightings[i])
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
