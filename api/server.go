// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/librachat/accounts"
	"github.com/bureau-foundation/librachat/contacts"
	"github.com/bureau-foundation/librachat/federation"
	"github.com/bureau-foundation/librachat/lib/clock"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/netutil"
	"github.com/bureau-foundation/librachat/lib/signing"
	"github.com/bureau-foundation/librachat/privmsg"
	"github.com/bureau-foundation/librachat/rooms"
	"github.com/bureau-foundation/librachat/store"
)

// Config holds the parameters for New.
type Config struct {
	Accounts *accounts.Service
	Rooms    *rooms.Service
	Contacts *contacts.Service
	Messages *privmsg.Service
	Store    *store.Store
	Signer   *signing.Signer
	Clock    clock.Clock
	Logger   *slog.Logger

	// Gateway serves discovery and federation routes. Nil disables
	// them; server info then reports federation_enabled false.
	Gateway *federation.Gateway

	// RequestsPerSecond and Burst configure the per-identity rate
	// limit. Zero RequestsPerSecond disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// Server is the client HTTP API.
type Server struct {
	accounts *accounts.Service
	rooms    *rooms.Service
	contacts *contacts.Service
	messages *privmsg.Service
	store    *store.Store
	signer   *signing.Signer
	gateway  *federation.Gateway
	clock    clock.Clock
	logger   *slog.Logger
	limiter  *rateLimiter
	upgrader websocket.Upgrader

	streamsMu sync.Mutex
	streams   map[*websocket.Conn]struct{}

	handler http.Handler
}

// New creates a Server. Panics if a required field is missing.
func New(config Config) *Server {
	if config.Accounts == nil {
		panic("api.New: Accounts is required")
	}
	if config.Rooms == nil {
		panic("api.New: Rooms is required")
	}
	if config.Contacts == nil {
		panic("api.New: Contacts is required")
	}
	if config.Messages == nil {
		panic("api.New: Messages is required")
	}
	if config.Store == nil {
		panic("api.New: Store is required")
	}
	if config.Signer == nil {
		panic("api.New: Signer is required")
	}
	if config.Clock == nil {
		panic("api.New: Clock is required")
	}
	if config.Logger == nil {
		panic("api.New: Logger is required")
	}

	s := &Server{
		accounts: config.Accounts,
		rooms:    config.Rooms,
		contacts: config.Contacts,
		messages: config.Messages,
		store:    config.Store,
		signer:   config.Signer,
		gateway:  config.Gateway,
		clock:    config.Clock,
		logger:   config.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Browser clients connect from any origin, as for every
			// other route (see the CORS policy below). The bearer
			// credential is what authorizes the stream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		streams: make(map[*websocket.Conn]struct{}),
	}
	if config.RequestsPerSecond > 0 {
		s.limiter = newRateLimiter(config.RequestsPerSecond, config.Burst, config.Clock)
	}

	mux := http.NewServeMux()
	s.register(mux)

	// Compression is skipped for upgrade requests: the websocket
	// handshake needs the raw connection.
	compressed := gzhttp.GzipHandler(mux)
	routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			mux.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
	withCORS := cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	})(routed)
	s.handler = observe(withCORS)
	return s
}

// Handler returns the root handler with metrics, CORS, and
// compression applied.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/auth/register", s.limitByAddress(s.HandleRegister))
	mux.HandleFunc("POST /api/auth/login", s.limitByAddress(s.HandleLogin))
	mux.HandleFunc("POST /api/auth/logout", s.limitByAddress(s.HandleLogout))
	mux.HandleFunc("GET /api/auth/me", s.authenticated(s.HandleMe))

	mux.HandleFunc("POST /api/createRoom", s.authenticated(s.HandleCreateRoom))
	mux.HandleFunc("GET /api/rooms", s.authenticated(s.HandleListRooms))
	mux.HandleFunc("POST /api/rooms/{room_id}/join", s.authenticated(s.HandleJoin))
	mux.HandleFunc("POST /api/rooms/{room_id}/leave", s.authenticated(s.HandleLeave))
	mux.HandleFunc("POST /api/rooms/{room_id}/invite", s.authenticated(s.HandleInvite))
	mux.HandleFunc("POST /api/rooms/{room_id}/send/m.room.message", s.authenticated(s.HandleSendMessage))
	mux.HandleFunc("GET /api/rooms/{room_id}/messages", s.authenticated(s.HandleRoomMessages))
	mux.HandleFunc("GET /api/rooms/{room_id}/poll", s.authenticated(s.HandlePoll))
	mux.HandleFunc("GET /api/rooms/{room_id}/stream", s.authenticated(s.HandleStream))

	mux.HandleFunc("POST /api/contacts/search", s.authenticated(s.HandleSearchContacts))
	mux.HandleFunc("POST /api/contacts/add", s.authenticated(s.HandleAddContact))
	mux.HandleFunc("GET /api/contacts", s.authenticated(s.HandleListContacts))
	mux.HandleFunc("DELETE /api/contacts/{contact_mxid}", s.authenticated(s.HandleRemoveContact))
	mux.HandleFunc("GET /api/conversations", s.authenticated(s.HandleConversations))

	mux.HandleFunc("POST /api/messages/private/send", s.authenticated(s.HandleSendPrivate))
	mux.HandleFunc("GET /api/messages/private/{contact_mxid}", s.authenticated(s.HandlePrivateHistory))
	mux.HandleFunc("GET /api/messages/private/id/{message_id}", s.authenticated(s.HandlePrivateMessage))

	mux.HandleFunc("GET /api/server/info", s.authenticated(s.HandleServerInfo))

	if s.gateway != nil {
		s.gateway.Register(mux)
	}
}

// authenticatedHandler is a handler that runs with a resolved caller.
type authenticatedHandler func(w http.ResponseWriter, r *http.Request, caller *accounts.Caller)

// authenticated resolves the bearer credential and applies the
// caller's rate limit before running next.
func (s *Server) authenticated(next authenticatedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.accounts.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !s.allow(w, r, caller.UserID().String()) {
			return
		}
		next(w, r, caller)
	}
}

// limitByAddress rate limits unauthenticated routes by client address.
func (s *Server) limitByAddress(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !s.allow(w, r, "addr:"+host) {
			return
		}
		next(w, r)
	}
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	if s.limiter == nil {
		return true
	}
	if ok, retryAfter := s.limiter.allow(key); !ok {
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
		s.writeError(w, r, fault.New(fault.RateLimited, "too many requests"))
		return false
	}
	return true
}

// bearerToken extracts the access token from the Authorization header,
// falling back to the access_token query parameter for clients (such
// as browser websockets) that cannot set headers.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}

// RunMaintenance drops idle rate limiter entries every interval until
// ctx is cancelled.
func (s *Server) RunMaintenance(ctx context.Context, interval time.Duration) {
	if s.limiter == nil {
		return
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept := s.limiter.sweep(interval); swept > 0 {
				s.logger.Debug("rate limiter entries swept", "count", swept)
			}
		}
	}
}

// CloseStreams closes every open websocket stream with a going-away
// frame. The HTTP server does not track hijacked connections, so
// this runs at shutdown.
func (s *Server) CloseStreams() {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	for conn := range s.streams {
		message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		conn.Close()
		delete(s.streams, conn)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, value any) {
	netutil.WriteJSON(w, s.logger, status, value)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	netutil.WriteError(w, s.logger, r, err)
}

// decode reads a JSON request body, classifying failures as
// fault.InvalidRequest.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := netutil.DecodeRequest(w, r, v); err != nil {
		s.writeError(w, r, fault.Wrap(fault.InvalidRequest, err, "invalid request body"))
		return false
	}
	return true
}
