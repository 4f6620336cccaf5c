// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"

	"github.com/bureau-foundation/librachat/accounts"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/privmsg"
)

type sendPrivateRequest struct {
	RecipientMXID string `json:"recipient_mxid"`
	Message       string `json:"message"`
}

// SendPrivateResponse is returned by POST /api/messages/private/send.
type SendPrivateResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

// HandleSendPrivate serves POST /api/messages/private/send.
func (s *Server) HandleSendPrivate(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	var request sendPrivateRequest
	if !s.decode(w, r, &request) {
		return
	}
	recipient, err := ref.ParseUserID(request.RecipientMXID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	message, err := s.messages.Send(r.Context(), caller.UserID(), recipient, request.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SendPrivateResponse{
		Success:   true,
		MessageID: message.MessageID,
		Timestamp: message.Timestamp,
	})
}

// PrivateMessageView is one private message as returned to a reader.
type PrivateMessageView struct {
	MessageID       string     `json:"message_id"`
	SenderMXID      ref.UserID `json:"sender_mxid"`
	RecipientMXID   ref.UserID `json:"recipient_mxid"`
	Content         string     `json:"content"`
	Timestamp       int64      `json:"timestamp"`
	IsOwnMessage    bool       `json:"is_own_message"`
	DecryptionError string     `json:"decryption_error,omitempty"`
}

func privateMessageView(message privmsg.Decrypted) PrivateMessageView {
	return PrivateMessageView{
		MessageID:       message.MessageID,
		SenderMXID:      message.Sender,
		RecipientMXID:   message.Recipient,
		Content:         message.Content,
		Timestamp:       message.Timestamp,
		IsOwnMessage:    message.IsOwnMessage,
		DecryptionError: message.DecryptionError,
	}
}

// PrivateHistoryResponse is returned by GET /api/messages/private/{contact_mxid}.
type PrivateHistoryResponse struct {
	Messages    []PrivateMessageView `json:"messages"`
	ContactMXID ref.UserID           `json:"contact_mxid"`
}

// HandlePrivateHistory serves GET /api/messages/private/{contact_mxid}?limit=N.
func (s *Server) HandlePrivateHistory(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	counterpart, err := ref.ParseUserID(r.PathValue("contact_mxid"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, ok := s.intQuery(w, r, "limit", 0)
	if !ok {
		return
	}
	history, err := s.messages.History(r.Context(), caller.UserID(), counterpart, int(limit))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response := PrivateHistoryResponse{
		Messages:    make([]PrivateMessageView, 0, len(history)),
		ContactMXID: counterpart,
	}
	for _, message := range history {
		response.Messages = append(response.Messages, privateMessageView(message))
	}
	s.writeJSON(w, http.StatusOK, response)
}

// HandlePrivateMessage serves GET /api/messages/private/id/{message_id}.
func (s *Server) HandlePrivateMessage(w http.ResponseWriter, r *http.Request, caller *accounts.Caller) {
	messageID := r.PathValue("message_id")
	if messageID == "" {
		s.writeError(w, r, fault.New(fault.InvalidRequest, "message_id is required"))
		return
	}
	message, err := s.messages.Message(r.Context(), caller.UserID(), messageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, privateMessageView(*message))
}
