package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harun/docrelay/pkg/chat"
	"github.com/harun/docrelay/pkg/delivery"
	"github.com/rs/zerolog"
)

type rawBodyKey struct{}

func withRawBody(ctx context.Context, raw []byte) context.Context {
	return context.WithValue(ctx, rawBodyKey{}, raw)
}

func rawBody(ctx context.Context) []byte {
	raw, _ := ctx.Value(rawBodyKey{}).([]byte)
	return raw
}

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return raw, nil
}

type sendToGroupRequest struct {
	GroupName string          `json:"groupName"`
	Message   string          `json:"message"`
	Files     []delivery.File `json:"files"`
}

type sendToUserRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	Message     string          `json:"message"`
	Files       []delivery.File `json:"files"`
}

type replyToMessageRequest struct {
	PhoneNumber     string         `json:"phoneNumber"`
	Message         string         `json:"message"`
	File            *delivery.File `json:"file"`
	QuotedMessageID string         `json:"quotedMessageId"`
	QuotedMsgID     string         `json:"quotedMsgId"`
	ReturnMsgID     bool           `json:"returnMsgId"`
}

func (req replyToMessageRequest) quotedID() string {
	if req.QuotedMessageID != "" {
		return req.QuotedMessageID
	}
	return req.QuotedMsgID
}

type sendResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
}

type replyResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
}

type groupEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type groupsResponse struct {
	Success bool         `json:"success"`
	Groups  []groupEntry `json:"groups"`
}

// decode validates the buffered body against the named schema and unmarshals it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema string, v any) bool {
	raw := rawBody(r.Context())
	if err := s.schemas.validate(schema, raw); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"time":   time.Now().UTC().Format(time.RFC3339),
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleGetGroups(w http.ResponseWriter, r *http.Request) {
	chats, err := s.delivery.Groups(r.Context())
	if err != nil {
		s.writeDeliveryError(w, r, err)
		return
	}
	groups := make([]groupEntry, 0, len(chats))
	for _, c := range chats {
		groups = append(groups, groupEntry{ID: c.ID, Name: c.Name})
	}
	writeJSON(w, http.StatusOK, groupsResponse{Success: true, Groups: groups})
}

func (s *Server) handleSendToGroup(w http.ResponseWriter, r *http.Request) {
	var req sendToGroupRequest
	if !s.decode(w, r, "send-to-group", &req) {
		return
	}
	msg, err := s.delivery.SendToGroup(r.Context(), delivery.GroupMessage{
		GroupName: req.GroupName,
		Text:      req.Message,
		Files:     req.Files,
	})
	s.auditDelivery(r, "send_to_group", req.GroupName, len(req.Files), err)
	if err != nil {
		s.writeDeliveryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: msg.ID})
}

func (s *Server) handleSendToUser(w http.ResponseWriter, r *http.Request) {
	var req sendToUserRequest
	if !s.decode(w, r, "send-to-user", &req) {
		return
	}
	msg, err := s.delivery.SendToUser(r.Context(), delivery.UserMessage{
		Recipient: req.PhoneNumber,
		Text:      req.Message,
		Files:     req.Files,
	})
	s.auditDelivery(r, "send_to_user", req.PhoneNumber, len(req.Files), err)
	if err != nil {
		s.writeDeliveryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{Success: true, MessageID: msg.ID})
}

func (s *Server) handleReplyToMessage(w http.ResponseWriter, r *http.Request) {
	var req replyToMessageRequest
	if !s.decode(w, r, "reply-to-message", &req) {
		return
	}
	msg, err := s.delivery.ReplyToMessage(r.Context(), delivery.ReplyMessage{
		Recipient:       req.PhoneNumber,
		Text:            req.Message,
		File:            req.File,
		QuotedMessageID: req.quotedID(),
	})
	files := 0
	if req.File != nil {
		files = 1
	}
	s.auditDelivery(r, "reply_to_message", req.PhoneNumber, files, err)
	if err != nil {
		s.writeDeliveryError(w, r, err)
		return
	}
	resp := replyResponse{Success: true}
	if req.ReturnMsgID {
		resp.MessageID = msg.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) auditDelivery(r *http.Request, action, recipient string, files int, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	s.audit.RecordDelivery(r.Context(), action, clientIP(r, s.options.TrustForwardedFor), status, map[string]any{
		"recipient": recipient,
		"files":     files,
	})
}

// writeDeliveryError maps delivery failures onto status codes.
func (s *Server) writeDeliveryError(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())

	var partial *delivery.PartialError
	switch {
	case errors.Is(err, delivery.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, delivery.ErrNotFound), errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, delivery.ErrNoMessageSent):
		logger.Error().Err(err).Msg("Reply could not be delivered")
		writeError(w, http.StatusInternalServerError, "no_message_sent", err.Error())
	case errors.As(err, &partial):
		logger.Error().Err(err).Int("delivered", partial.Delivered).Msg("Delivery partially failed")
		writeError(w, http.StatusInternalServerError, "delivery_failed", err.Error())
	default:
		logger.Error().Err(err).Msg("Delivery failed")
		writeError(w, http.StatusInternalServerError, "delivery_failed", err.Error())
	}
}
