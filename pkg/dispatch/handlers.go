package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harun/docrelay/internal/metrics"
	"github.com/harun/docrelay/pkg/backend"
	"github.com/harun/docrelay/pkg/chat"
	"github.com/harun/docrelay/pkg/selection"
	"github.com/rs/zerolog"
)

// handlerBase carries the collaborators every handler shares.
type handlerBase struct {
	chat     ChatClient
	backend  Backend
	sessions selection.Store
	mime     string
	metrics  *metrics.Metrics
	now      func() time.Time
}

// reply sends text into the event's chat, dropping the quote if the
// provider rejects it.
func (b handlerBase) reply(ctx context.Context, ev *Event, text, quoteID string) (chat.SentMessage, error) {
	sent, err := b.chat.SendText(ctx, ev.ChatID, text, chat.SendOptions{QuotedMessageID: quoteID})
	if err != nil && quoteID != "" {
		zerolog.Ctx(ctx).Warn().Err(err).Str("quoted_id", quoteID).Msg("Quoted reply failed, retrying without quote")
		sent, err = b.chat.SendText(ctx, ev.ChatID, text, chat.SendOptions{})
	}
	return sent, err
}

// notify is reply for notices whose delivery failure is only logged.
func (b handlerBase) notify(ctx context.Context, ev *Event, text string) {
	if _, err := b.reply(ctx, ev, text, ""); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to send notice")
	}
}

// mayBeDocument rejects media whose known MIME type is not the target.
// An unknown type is checked after download.
func (b handlerBase) mayBeDocument(ref *chat.MediaRef) bool {
	return ref != nil && (ref.MimeType == "" || ref.MimeType == b.mime)
}

// documentForward sends PDFs to the ingest endpoint.
type documentForward struct {
	handlerBase
}

func (h *documentForward) Kind() Kind { return KindDocumentForward }

func (h *documentForward) Handle(ctx context.Context, ev *Event) (bool, error) {
	if !ev.HasMedia() || !h.mayBeDocument(ev.Media) {
		return false, nil
	}

	att, err := ev.Download(ctx)
	if err != nil {
		return false, fmt.Errorf("download attachment: %w", err)
	}
	if att.MimeType != h.mime {
		return false, nil
	}

	var quotedText *string
	if ev.Quoted != nil {
		text := ev.Quoted.Text
		quotedText = &text
	}

	filename := att.Filename
	if filename == "" {
		filename = defaultFilename
	}

	logger := zerolog.Ctx(ctx)
	logger.Info().Str("filename", filename).Int("size", len(att.Data)).Msg("Forwarding document")

	err = h.backend.Ingest(ctx, backend.IngestRequest{
		Filename:    filename,
		Data:        att.Base64(),
		MimeType:    att.MimeType,
		QuotedMsgID: ev.MessageID,
		QuotedText:  quotedText,
		Sender:      ev.SourceID,
	})
	if backend.IsTransport(err) {
		return false, err
	}
	if err != nil {
		// The service saw the document; its verdict is not ours to act on.
		logger.Error().Err(err).Msg("Document ingest rejected")
	}
	return true, nil
}

// connectList presents approved candidates for a quoted PDF.
type connectList struct {
	handlerBase
	keyword string
}

func (h *connectList) Kind() Kind { return KindConnectList }

func (h *connectList) Handle(ctx context.Context, ev *Event) (bool, error) {
	if !ev.HasQuotedMessage() || !strings.Contains(strings.ToLower(ev.Text), strings.ToLower(h.keyword)) {
		return false, nil
	}
	if !h.mayBeDocument(ev.Quoted.Media) {
		return false, nil
	}

	att, err := ev.DownloadQuoted(ctx)
	if err != nil {
		return false, fmt.Errorf("download quoted attachment: %w", err)
	}
	if att.MimeType != h.mime {
		return false, nil
	}
	if att.Filename == "" {
		att.Filename = defaultFilename
	}

	candidates, err := h.backend.Candidates(ctx)
	if err != nil {
		h.notify(ctx, ev, msgServerError)
		return true, fmt.Errorf("fetch candidates: %w", err)
	}
	if len(candidates) == 0 {
		h.notify(ctx, ev, msgNoCandidates)
		return true, nil
	}

	sent, err := h.reply(ctx, ev, renderCandidates(candidates), ev.MessageID)
	if err != nil {
		return false, fmt.Errorf("send candidate list: %w", err)
	}

	sess := &selection.Session{
		ListMessageID:           sent.ID,
		Owner:                   ev.SourceID,
		ChatID:                  ev.ChatID,
		QuotedDocumentMessageID: ev.Quoted.MessageID,
		Attachment:              att,
		Candidates:              candidates,
		CreatedAt:               h.now().UTC(),
	}
	if err := h.sessions.Put(ctx, sess); err != nil {
		return true, fmt.Errorf("store selection session: %w", err)
	}

	h.metrics.RecordSelection("created")
	zerolog.Ctx(ctx).Info().
		Str("list_msg_id", sent.ID).
		Int("candidates", len(candidates)).
		Msg("Selection session created")
	return true, nil
}

// numericSelection resolves a numbered reply to a presented list.
type numericSelection struct {
	handlerBase
}

func (h *numericSelection) Kind() Kind { return KindNumericSelection }

func (h *numericSelection) Handle(ctx context.Context, ev *Event) (bool, error) {
	if !ev.HasQuotedMessage() {
		return false, nil
	}
	choice, err := strconv.Atoi(strings.TrimSpace(ev.Text))
	switch {
	case errors.Is(err, strconv.ErrRange):
		// Too many digits for an int is still a number, just not a listed one.
		choice = 0
	case err != nil:
		return false, nil
	}

	logger := zerolog.Ctx(ctx).With().Str("list_msg_id", ev.Quoted.MessageID).Int("choice", choice).Logger()

	// Ownership and range are checked on a read; only the owner's valid
	// choice claims the session.
	sess, err := h.sessions.Get(ctx, ev.Quoted.MessageID)
	if errors.Is(err, selection.ErrSessionNotFound) {
		h.metrics.RecordSelection("not_found")
		logger.Info().Msg("No selection session for quoted message")
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load selection session: %w", err)
	}

	if sess.Owner != "" && sess.Owner != ev.SourceID {
		h.metrics.RecordSelection("not_owner")
		logger.Info().Str("owner", sess.Owner).Msg("Selection from non-owner ignored")
		return true, nil
	}

	if _, ok := sess.Candidate(choice); !ok {
		h.metrics.RecordSelection("invalid")
		h.notify(ctx, ev, msgInvalidSelection)
		return true, nil
	}

	sess, err = h.sessions.Take(ctx, ev.Quoted.MessageID)
	if errors.Is(err, selection.ErrSessionNotFound) {
		h.metrics.RecordSelection("not_found")
		logger.Info().Msg("Selection session already claimed")
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim selection session: %w", err)
	}
	candidate, ok := sess.Candidate(choice)
	if !ok {
		h.metrics.RecordSelection("invalid")
		h.notify(ctx, ev, msgInvalidSelection)
		return true, h.restore(ctx, sess)
	}

	res, err := h.backend.Link(ctx, backend.LinkRequest{
		PaymentRequestID: candidate.ID,
		Filename:         sess.Attachment.Filename,
		MimeType:         sess.Attachment.MimeType,
		Data:             sess.Attachment.Base64(),
	})
	switch {
	case backend.IsProtocol(err):
		h.metrics.RecordSelection("failed")
		h.notify(ctx, ev, msgInvalidResponse)
		logger.Error().Err(err).Msg("Link response was not JSON")
		return true, h.restore(ctx, sess)
	case err != nil:
		h.metrics.RecordSelection("failed")
		h.notify(ctx, ev, msgServerError)
		logger.Error().Err(err).Msg("Link request failed")
		return true, h.restore(ctx, sess)
	case !res.Success:
		h.metrics.RecordSelection("rejected")
		h.notify(ctx, ev, linkFailedText(res))
		return true, h.restore(ctx, sess)
	}

	h.metrics.RecordSelection("linked")
	logger.Info().Str("candidate_id", candidate.ID.String()).Msg("Document linked")
	h.notify(ctx, ev, linkedText(candidate.ID))
	return true, nil
}

// restore puts a taken session back so the owner can retry.
func (h *numericSelection) restore(ctx context.Context, sess *selection.Session) error {
	if err := h.sessions.Put(ctx, sess); err != nil {
		return fmt.Errorf("restore selection session: %w", err)
	}
	return nil
}

// messageRelay posts events no other handler claimed to /message.
type messageRelay struct {
	handlerBase
}

func (h *messageRelay) Kind() Kind { return KindMessageRelay }

func (h *messageRelay) Handle(ctx context.Context, ev *Event) (bool, error) {
	payload := h.payload(ctx, ev)

	reply, err := h.backend.RelayMessage(ctx, payload)
	if err != nil {
		return false, fmt.Errorf("relay message: %w", err)
	}
	if reply == nil {
		return true, nil
	}

	if _, err := h.reply(ctx, ev, reply.Reply, reply.QuotedID); err != nil {
		return true, fmt.Errorf("send relay reply: %w", err)
	}
	return true, nil
}

func (h *messageRelay) payload(ctx context.Context, ev *Event) backend.MessagePayload {
	kind := "private"
	if ev.IsGroup {
		kind = "group"
	}

	p := backend.MessagePayload{
		From:      ev.SourceID,
		ID:        ev.MessageID,
		ChatID:    ev.ChatID,
		IsGroup:   ev.IsGroup,
		Type:      kind,
		IsReply:   ev.HasQuotedMessage(),
		Text:      ev.Text,
		Timestamp: ev.Timestamp.Unix(),
	}
	if ev.ChatName != "" {
		name := ev.ChatName
		p.Name = &name
	}
	if ev.Quoted != nil {
		id, text := ev.Quoted.MessageID, ev.Quoted.Text
		p.QuotedMsgID = &id
		p.QuotedText = &text
	}

	logger := zerolog.Ctx(ctx)
	if ev.HasMedia() {
		if att, err := ev.Download(ctx); err != nil {
			logger.Warn().Err(err).Msg("Media download failed")
		} else {
			p.Filename = orDefault(att.Filename, defaultFilename)
			p.Data = att.Base64()
			p.MimeType = att.MimeType
		}
	}
	if ev.Quoted != nil && ev.Quoted.Media != nil {
		if att, err := ev.DownloadQuoted(ctx); err != nil {
			logger.Warn().Err(err).Msg("Quoted media download failed")
		} else {
			p.QuotedFilename = orDefault(att.Filename, defaultFilename)
			p.QuotedData = att.Base64()
			p.QuotedMimeType = att.MimeType
		}
	}
	return p
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
