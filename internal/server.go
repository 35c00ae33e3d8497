package internal

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTokenTTL  = 24 * time.Hour
	authLimit        = 10
	authLimitWindow  = time.Minute
	authQueryParam   = "token"
	authHeaderPrefix = "Bearer "
)

var errUnauthorized = errors.New("unauthorized")

// Server owns the realtime components and the HTTP surface in front of
// them. All cross-component wiring happens in NewServer: registry occupancy
// hooks drive presence, and the vanished hook drives call teardown.
type Server struct {
	store     ServerStore
	directory UserDirectory
	logger    *log.Logger

	registry *Registry
	presence *PresenceTracker
	rooms    *RoomTable
	dedup    *DedupCache
	relay    *MessageRelay
	typing   *TypingTracker
	calls    *CallCoordinator
	metrics  *Metrics

	authLimiter *RateLimiter
	tokenTTL    time.Duration
}

// NewServer wires every component against the given store. directory may be
// nil, in which case presence persists straight into the store; passing a
// wrapper (the redis mirror) layers fan-out on top.
func NewServer(store ServerStore, directory UserDirectory, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if directory == nil {
		directory = store
	}

	registry := NewRegistry()
	metrics := NewMetrics()
	rooms := NewRoomTable()
	dedup := NewDedupCache(0)

	s := &Server{
		store:       store,
		directory:   directory,
		logger:      logger,
		registry:    registry,
		presence:    NewPresenceTracker(registry, directory, logger),
		rooms:       rooms,
		dedup:       dedup,
		relay:       NewMessageRelay(registry, rooms, dedup, store, metrics, logger),
		typing:      NewTypingTracker(registry, store, logger),
		calls:       NewCallCoordinator(registry, metrics, logger),
		metrics:     metrics,
		authLimiter: NewRateLimiter(authLimit, authLimitWindow),
		tokenTTL:    defaultTokenTTL,
	}

	registry.onOnline = s.presence.OnOnline
	registry.onOffline = s.presence.OnOffline
	registry.onVanished = s.calls.OnVanished
	return s
}

// Typing exposes the tracker so the lifecycle layer can run its sweeper.
func (s *Server) Typing() *TypingTracker { return s.typing }

// MetricsHandler serves the counter snapshot as JSON.
func (s *Server) MetricsHandler() http.Handler { return s.metrics }

// HandleHealthz answers liveness probes.
func (s *Server) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type authContext struct {
	UserID   int64
	Username string
	Token    string
}

// authenticateRequest resolves the bearer token on an HTTP request.
func (s *Server) authenticateRequest(r *http.Request) (authContext, error) {
	token := bearerToken(r)
	if token == "" {
		return authContext{}, errUnauthorized
	}
	userID, username, err := s.store.Authenticate(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return authContext{}, errUnauthorized
		}
		return authContext{}, err
	}
	return authContext{UserID: userID, Username: username, Token: token}, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, authHeaderPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(header, authHeaderPrefix))
	}
	return strings.TrimSpace(r.URL.Query().Get(authQueryParam))
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
