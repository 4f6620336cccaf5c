// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bureau-foundation/librachat/lib/netutil"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/lib/signing"
	"github.com/bureau-foundation/librachat/lib/version"
)

// RoomDirectory lists the rooms advertised over federation.
type RoomDirectory interface {
	PublicRooms(ctx context.Context) ([]schema.Room, error)
}

// Config holds the parameters for New.
type Config struct {
	Signer *signing.Signer
	Rooms  RoomDirectory
	Logger *slog.Logger

	// PublicBaseURL is advertised in the client discovery document.
	// Defaults to https://<server name>.
	PublicBaseURL string
}

// Gateway serves the discovery and federation read endpoints.
type Gateway struct {
	signer        *signing.Signer
	rooms         RoomDirectory
	logger        *slog.Logger
	publicBaseURL string
}

// New creates a Gateway. Panics if a required field is missing.
func New(config Config) *Gateway {
	if config.Signer == nil {
		panic("federation.New: Signer is required")
	}
	if config.Rooms == nil {
		panic("federation.New: Rooms is required")
	}
	if config.Logger == nil {
		panic("federation.New: Logger is required")
	}
	baseURL := strings.TrimRight(config.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://" + config.Signer.ServerName().String()
	}
	return &Gateway{
		signer:        config.Signer,
		rooms:         config.Rooms,
		logger:        config.Logger,
		publicBaseURL: baseURL,
	}
}

// Register adds the gateway's routes to mux.
func (g *Gateway) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /.well-known/matrix/server", g.HandleServerDiscovery)
	mux.HandleFunc("GET /.well-known/matrix/client", g.HandleClientDiscovery)
	mux.HandleFunc("GET /_matrix/key/v2/server", g.HandleServerKeys)
	mux.HandleFunc("GET /_matrix/federation/v1/version", g.HandleVersion)
	mux.HandleFunc("GET /_matrix/federation/v1/publicRooms", g.HandlePublicRooms)
}

// ready reports whether the signing key is usable, writing a 500 if
// not. Every gateway response is gated on it so that a server with
// broken key material advertises nothing.
func (g *Gateway) ready(w http.ResponseWriter, r *http.Request) bool {
	if err := g.signer.Init(); err != nil {
		netutil.WriteError(w, g.logger, r, err)
		return false
	}
	return true
}

// ServerDiscovery is the /.well-known/matrix/server document.
type ServerDiscovery struct {
	Server string `json:"m.server"`
}

// ClientDiscovery is the /.well-known/matrix/client document.
type ClientDiscovery struct {
	Homeserver struct {
		BaseURL string `json:"base_url"`
	} `json:"m.homeserver"`
}

// HandleServerDiscovery serves GET /.well-known/matrix/server.
func (g *Gateway) HandleServerDiscovery(w http.ResponseWriter, r *http.Request) {
	if !g.ready(w, r) {
		return
	}
	netutil.WriteJSON(w, g.logger, http.StatusOK, ServerDiscovery{Server: g.signer.ServerName().String()})
}

// HandleClientDiscovery serves GET /.well-known/matrix/client.
func (g *Gateway) HandleClientDiscovery(w http.ResponseWriter, r *http.Request) {
	if !g.ready(w, r) {
		return
	}
	var document ClientDiscovery
	document.Homeserver.BaseURL = g.publicBaseURL
	netutil.WriteJSON(w, g.logger, http.StatusOK, document)
}

// HandleServerKeys serves GET /_matrix/key/v2/server.
func (g *Gateway) HandleServerKeys(w http.ResponseWriter, r *http.Request) {
	if !g.ready(w, r) {
		return
	}
	keys, err := g.signer.PublishableKeys()
	if err != nil {
		netutil.WriteError(w, g.logger, r, err)
		return
	}
	netutil.WriteJSON(w, g.logger, http.StatusOK, keys)
}

// ServerVersion identifies the implementation.
type ServerVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// VersionResponse is the signed /_matrix/federation/v1/version body.
type VersionResponse struct {
	Server     ServerVersion      `json:"server"`
	Signatures signing.Signatures `json:"signatures,omitempty"`
}

// HandleVersion serves GET /_matrix/federation/v1/version.
func (g *Gateway) HandleVersion(w http.ResponseWriter, r *http.Request) {
	if !g.ready(w, r) {
		return
	}
	response := &VersionResponse{Server: ServerVersion{Name: version.ServerName, Version: version.Short()}}
	if !g.sign(w, r, response, &response.Signatures) {
		return
	}
	netutil.WriteJSON(w, g.logger, http.StatusOK, response)
}

// PublicRoom is one entry in the public room directory.
type PublicRoom struct {
	RoomID           ref.RoomID      `json:"room_id"`
	Name             string          `json:"name,omitempty"`
	Topic            string          `json:"topic,omitempty"`
	CanonicalAlias   ref.RoomAlias   `json:"canonical_alias,omitzero"`
	Aliases          []ref.RoomAlias `json:"aliases"`
	NumJoinedMembers int             `json:"num_joined_members"`
	WorldReadable    bool            `json:"world_readable"`
	GuestCanJoin     bool            `json:"guest_can_join"`
	JoinRule         string          `json:"join_rule"`
}

// PublicRoomsResponse is the signed public room directory.
type PublicRoomsResponse struct {
	Chunk                  []PublicRoom       `json:"chunk"`
	TotalRoomCountEstimate int                `json:"total_room_count_estimate"`
	Signatures             signing.Signatures `json:"signatures,omitempty"`
}

// DirectoryEntry converts a room record to its directory entry.
func DirectoryEntry(room schema.Room) PublicRoom {
	entry := PublicRoom{
		RoomID:           room.RoomID,
		Name:             room.Name,
		Topic:            room.Topic,
		CanonicalAlias:   room.Alias,
		Aliases:          []ref.RoomAlias{},
		NumJoinedMembers: room.JoinedMembers,
		WorldReadable:    true,
		GuestCanJoin:     true,
		JoinRule:         "public",
	}
	if !room.Alias.IsZero() {
		entry.Aliases = append(entry.Aliases, room.Alias)
	}
	return entry
}

// HandlePublicRooms serves GET /_matrix/federation/v1/publicRooms.
func (g *Gateway) HandlePublicRooms(w http.ResponseWriter, r *http.Request) {
	if !g.ready(w, r) {
		return
	}
	rooms, err := g.rooms.PublicRooms(r.Context())
	if err != nil {
		netutil.WriteError(w, g.logger, r, err)
		return
	}
	response := &PublicRoomsResponse{Chunk: make([]PublicRoom, 0, len(rooms))}
	for _, room := range rooms {
		response.Chunk = append(response.Chunk, DirectoryEntry(room))
	}
	response.TotalRoomCountEstimate = len(response.Chunk)
	if !g.sign(w, r, response, &response.Signatures) {
		return
	}
	netutil.WriteJSON(w, g.logger, http.StatusOK, response)
}

// sign stores the server signature over document in signatures,
// writing a 500 and returning false if signing fails.
func (g *Gateway) sign(w http.ResponseWriter, r *http.Request, document any, signatures *signing.Signatures) bool {
	signed, err := g.signer.SignJSON(document)
	if err != nil {
		netutil.WriteError(w, g.logger, r, err)
		return false
	}
	*signatures = signed
	return true
}
