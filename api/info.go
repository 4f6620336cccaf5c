// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/bureau-foundation/librachat/accounts"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/lib/signing"
	"github.com/bureau-foundation/librachat/lib/version"
)

// HandleHealth serves GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ServerInfoResponse is returned by GET /api/server/info.
type ServerInfoResponse struct {
	ServerName        ref.ServerName    `json:"server_name"`
	Version           string            `json:"version"`
	FederationEnabled bool              `json:"federation_enabled"`
	VerifyKey         string            `json:"verify_key"`
	KeyID             string            `json:"key_id"`
	Statistics        schema.Statistics `json:"statistics"`
}

// HandleServerInfo serves GET /api/server/info.
func (s *Server) HandleServerInfo(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	public, err := s.signer.PublicKey()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	statistics, err := s.store.Statistics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ServerInfoResponse{
		ServerName:        s.signer.ServerName(),
		Version:           version.Short(),
		FederationEnabled: s.gateway != nil,
		VerifyKey:         signing.EncodeBase64(public),
		KeyID:             s.signer.KeyID(),
		Statistics:        statistics,
	})
}
