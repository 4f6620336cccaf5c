// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/bureau-foundation/librachat/accounts"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
)

type searchRequest struct {
	Query string `json:"query"`
}

// SearchResult is one user in a contact search.
type SearchResult struct {
	MXID        ref.UserID     `json:"mxid"`
	Localpart   string         `json:"localpart"`
	ServerName  ref.ServerName `json:"server_name"`
	DisplayName string         `json:"display_name"`
	IsFederated bool           `json:"is_federated"`
}

// HandleSearchContacts serves POST /api/contacts/search.
func (s *Server) HandleSearchContacts(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	var request searchRequest
	if !s.decode(w, r, &request) {
		return
	}
	matches, err := s.contacts.Search(r.Context(), caller.UserID(), request.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	users := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		users = append(users, SearchResult{
			MXID:        match.UserID,
			Localpart:   match.UserID.Localpart(),
			ServerName:  match.UserID.Server(),
			DisplayName: match.DisplayName,
			IsFederated: match.IsFederated,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string][]SearchResult{"users": users})
}

type addContactRequest struct {
	ContactMXID string `json:"contact_mxid"`
}

// AddContactResponse is returned by POST /api/contacts/add.
type AddContactResponse struct {
	Success bool            `json:"success"`
	Contact *schema.Contact `json:"contact"`
}

// HandleAddContact serves POST /api/contacts/add.
func (s *Server) HandleAddContact(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	var request addContactRequest
	if !s.decode(w, r, &request) {
		return
	}
	target, err := ref.ParseUserID(request.ContactMXID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	edge, err := s.contacts.Add(r.Context(), caller.UserID(), target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, AddContactResponse{Success: true, Contact: edge})
}

// HandleListContacts serves GET /api/contacts.
func (s *Server) HandleListContacts(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	edges, err := s.contacts.List(r.Context(), caller.UserID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if edges == nil {
		edges = []schema.Contact{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]schema.Contact{"contacts": edges})
}

// HandleRemoveContact serves DELETE /api/contacts/{contact_mxid}.
func (s *Server) HandleRemoveContact(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	target, err := ref.ParseUserID(r.PathValue("contact_mxid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.contacts.Remove(r.Context(), caller.UserID(), target); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleConversations serves GET /api/conversations.
func (s *Server) HandleConversations(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	conversations, err := s.contacts.Conversations(r.Context(), caller.UserID())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if conversations == nil {
		conversations = []schema.Conversation{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]schema.Conversation{"conversations": conversations})
}
