// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/bureau-foundation/librachat/accounts"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
)

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type loginRequest struct {
	Username string `json:"username"`
	MXID     string `json:"mxid"`
	Password string `json:"password"`
}

// UserResponse is the public view of an identity.
type UserResponse struct {
	MXID        ref.UserID     `json:"mxid"`
	Localpart   string         `json:"localpart"`
	ServerName  ref.ServerName `json:"server_name"`
	DisplayName string         `json:"display_name"`
}

func userResponse(identity schema.Identity) UserResponse {
	return UserResponse{
		MXID:        identity.UserID,
		Localpart:   identity.UserID.Localpart(),
		ServerName:  identity.UserID.Server(),
		DisplayName: identity.DisplayName,
	}
}

// SessionResponse is returned by register and login.
type SessionResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        UserResponse `json:"user"`
}

func sessionResponse(session *accounts.Session) SessionResponse {
	return SessionResponse{
		AccessToken: session.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(session.ExpiresIn.Seconds()),
		User:        userResponse(session.Identity),
	}
}

// HandleRegister serves POST /api/auth/register.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var request registerRequest
	if !s.decode(w, r, &request) {
		return
	}
	session, err := s.accounts.Register(r.Context(), accounts.Registration{
		Username:    request.Username,
		Password:    request.Password,
		DisplayName: request.DisplayName,
		Email:       request.Email,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionResponse(session))
}

// HandleLogin serves POST /api/auth/login. Either username or mxid
// identifies the account.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var request loginRequest
	if !s.decode(w, r, &request) {
		return
	}
	login := request.Username
	if login == "" {
		login = request.MXID
	}
	if login == "" {
		s.writeError(w, r, fault.New(fault.InvalidRequest, "username or mxid is required"))
		return
	}
	session, err := s.accounts.Login(r.Context(), login, request.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sessionResponse(session))
}

// HandleLogout serves POST /api/auth/logout, revoking the presented
// token.
func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Logout(r.Context(), bearerToken(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// MeResponse is returned by GET /api/auth/me.
type MeResponse struct {
	UserResponse
	PublicKey string `json:"public_key"`
	CreatedTS int64  `json:"created_ts"`
}

// HandleMe serves GET /api/auth/me.
func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	s.writeJSON(w, http.StatusOK, MeResponse{
		UserResponse: userResponse(caller.Identity),
		PublicKey:    caller.Identity.PublicKey,
		CreatedTS:    caller.Identity.CreatedTS,
	})
}
