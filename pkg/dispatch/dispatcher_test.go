package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/docrelay/pkg/allowlist"
	"github.com/harun/docrelay/pkg/backend"
	"github.com/harun/docrelay/pkg/chat"
	"github.com/harun/docrelay/pkg/chat/chattest"
	"github.com/harun/docrelay/pkg/selection"
	"github.com/harun/docrelay/pkg/signing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "relay-secret"
	allowedUser = "905431205525@c.us"
	allowedName = "BOT TEST"
)

var pdf = chat.Attachment{Filename: "invoice.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4 test")}

type call struct {
	Method string
	Path   string
	Body   map[string]any
}

// fakeService is a Processing Service that verifies signatures and records calls.
type fakeService struct {
	t        *testing.T
	verifier *signing.Verifier

	mu    sync.Mutex
	calls []call

	candidates string
	link       func(body map[string]any) (int, string)
	message    string
}

func newFakeService(t *testing.T) (*fakeService, *backend.Client) {
	fs := &fakeService{
		t:          t,
		verifier:   signing.NewVerifier(testSecret, time.Minute),
		candidates: `{"requests":[]}`,
		link: func(map[string]any) (int, string) {
			return http.StatusOK, `{"success":true}`
		},
		message: `{}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(fs.serve))
	t.Cleanup(srv.Close)

	client, err := backend.New(backend.Options{BaseURL: srv.URL, Secret: testSecret, Sign: true}, zerolog.Nop())
	require.NoError(t, err)
	return fs, client
}

func (fs *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	env, err := signing.FromHeader(r.Header)
	if assert.NoError(fs.t, err) {
		assert.NoError(fs.t, fs.verifier.Verify(env, raw))
	}

	c := call{Method: r.Method, Path: r.URL.Path}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &c.Body)
	}
	fs.mu.Lock()
	fs.calls = append(fs.calls, c)
	candidates, link, message := fs.candidates, fs.link, fs.message
	fs.mu.Unlock()

	switch r.URL.Path {
	case "/get_approved_requests_json":
		io.WriteString(w, candidates)
	case "/api/bot/link_receipt":
		status, body := link(c.Body)
		w.WriteHeader(status)
		io.WriteString(w, body)
	case "/message":
		io.WriteString(w, message)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (fs *fakeService) SetCandidates(body string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.candidates = body
}

func (fs *fakeService) SetLink(fn func(body map[string]any) (int, string)) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.link = fn
}

func (fs *fakeService) SetMessage(body string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.message = body
}

func (fs *fakeService) Calls() []call {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]call, len(fs.calls))
	copy(out, fs.calls)
	return out
}

type harness struct {
	dispatcher *Dispatcher
	provider   *chattest.Provider
	service    *fakeService
	sessions   *selection.MemoryStore
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	service, client := newFakeService(t)
	provider := chattest.New()
	sessions := selection.NewMemoryStore()

	opts := Options{
		Filter: allowlist.New(allowlist.Rules{
			Groups:  []string{allowedName},
			Numbers: []string{allowedUser},
		}),
		Chat:     provider,
		Backend:  client,
		Sessions: sessions,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return time.Unix(1700000000, 0) },
	}
	for _, m := range mutate {
		m(&opts)
	}

	d, err := New(opts)
	require.NoError(t, err)
	return &harness{dispatcher: d, provider: provider, service: service, sessions: sessions}
}

func directEvent(text string) chat.InboundEvent {
	return chat.InboundEvent{
		SourceID:  allowedUser,
		MessageID: "msg-1",
		ChatID:    allowedUser,
		Text:      text,
		Timestamp: time.Unix(1700000000, 0),
	}
}

func groupEvent(name, text string) chat.InboundEvent {
	return chat.InboundEvent{
		SourceID:  "905000000000@c.us",
		MessageID: "msg-g",
		ChatID:    "group-1@g.us",
		ChatName:  name,
		IsGroup:   true,
		Text:      text,
	}
}

func (h *harness) withPDF(ev chat.InboundEvent) chat.InboundEvent {
	ref := h.provider.AddMedia("pdf-"+ev.MessageID, pdf)
	ev.Media = &ref
	return ev
}

func (h *harness) quotingPDF(ev chat.InboundEvent, quotedID string) chat.InboundEvent {
	ref := h.provider.AddMedia("quoted-"+quotedID, pdf)
	ev.Quoted = &chat.QuotedMessage{MessageID: quotedID, Text: "see attached", Media: &ref}
	return ev
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestHandlerOrder(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RelayUnhandled = true })

	var kinds []Kind
	for _, handler := range h.dispatcher.Handlers() {
		kinds = append(kinds, handler.Kind())
	}
	assert.Equal(t, []Kind{KindDocumentForward, KindConnectList, KindNumericSelection, KindMessageRelay}, kinds)
}

func TestFilteredEventsCauseNoCalls(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		event      func(h *harness) chat.InboundEvent
	}{
		{
			name: "group not allowed",
			event: func(h *harness) chat.InboundEvent {
				return h.withPDF(groupEvent("Random Group", "hello"))
			},
		},
		{
			name: "direct sender not allowed",
			event: func(h *harness) chat.InboundEvent {
				ev := h.withPDF(directEvent("connect"))
				ev.SourceID, ev.ChatID = "900000000000@c.us", "900000000000@c.us"
				return ev
			},
		},
		{
			name:       "direct sender not allowed in production",
			production: true,
			event: func(h *harness) chat.InboundEvent {
				ev := h.quotingPDF(directEvent("2"), "list-1")
				ev.SourceID, ev.ChatID = "900000000000@c.us", "900000000000@c.us"
				return ev
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(o *Options) {
				o.RelayUnhandled = true
				o.Filter = allowlist.New(allowlist.Rules{
					Groups:     []string{allowedName},
					Numbers:    []string{allowedUser},
					Production: tt.production,
				})
			})

			res := h.dispatcher.Dispatch(context.Background(), tt.event(h))
			assert.True(t, res.Filtered)
			assert.False(t, res.Handled)
			assert.Empty(t, h.service.Calls())
			assert.Empty(t, h.provider.Sent())
			assert.Zero(t, h.provider.Downloads())
		})
	}
}

func TestProductionAllowsAnyGroup(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Filter = allowlist.New(allowlist.Rules{Numbers: []string{allowedUser}, Production: true})
	})

	res := h.dispatcher.Dispatch(context.Background(), h.withPDF(groupEvent("Any Group", "")))
	assert.False(t, res.Filtered)
	assert.True(t, res.Handled)
	assert.Equal(t, KindDocumentForward, res.Kind)
}

func TestDocumentForwardOnlyForPDF(t *testing.T) {
	tests := []struct {
		name     string
		att      chat.Attachment
		refMime  string
		forwards bool
		download bool
	}{
		{name: "pdf", att: pdf, forwards: true, download: true},
		{name: "image after download", att: chat.Attachment{Filename: "a.jpg", MimeType: "image/jpeg", Data: []byte{1}}, download: true},
		{name: "known non-pdf skips download", att: chat.Attachment{MimeType: "text/plain"}, refMime: "text/plain"},
		{name: "pdf-like name is not enough", att: chat.Attachment{Filename: "x.pdf", MimeType: "application/octet-stream"}, download: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ref := h.provider.AddMedia("m", tt.att)
			ref.MimeType = tt.refMime
			ev := directEvent("")
			ev.Media = &ref

			res := h.dispatcher.Dispatch(context.Background(), ev)

			var ingests int
			for _, c := range h.service.Calls() {
				if c.Path == "/process_whatsapp_pdf" {
					ingests++
				}
			}
			if tt.forwards {
				assert.Equal(t, 1, ingests)
				assert.Equal(t, KindDocumentForward, res.Kind)
			} else {
				assert.Zero(t, ingests)
				assert.False(t, res.Handled)
			}
			assert.Equal(t, tt.download, h.provider.Downloads() > 0)
		})
	}
}

func TestDocumentForwardPayload(t *testing.T) {
	h := newHarness(t)
	ev := h.withPDF(directEvent("here you go"))
	ev.Quoted = &chat.QuotedMessage{MessageID: "q-1", Text: "please send the invoice"}

	res := h.dispatcher.Dispatch(context.Background(), ev)
	require.True(t, res.Handled)

	calls := h.service.Calls()
	require.Len(t, calls, 1)
	body := calls[0].Body
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "invoice.pdf", body["filename"])
	assert.Equal(t, pdf.Base64(), body["data"])
	assert.Equal(t, "application/pdf", body["mimetype"])
	assert.Equal(t, "msg-1", body["quoted_msg_id"])
	assert.Equal(t, "please send the invoice", body["quoted_text"])
	assert.Equal(t, allowedUser, body["sender"])
	assert.Empty(t, h.provider.Sent())
}

const threeCandidates = `{"requests":[
	{"id":11,"company_name":"Acme","invoice_number":"INV-1","amount":10,"currency":"USD"},
	{"id":12,"company_name":"Beta","invoice_number":"INV-2","amount":20.5,"currency":"EUR"},
	{"id":13,"company_name":"Gamma","invoice_number":"INV-3","amount":"30","currency":"TRY"}
]}`

func TestConnectPresentsCandidates(t *testing.T) {
	h := newHarness(t)
	h.service.SetCandidates(threeCandidates)

	res := h.dispatcher.Dispatch(context.Background(), h.quotingPDF(directEvent("please CONNECT this"), "doc-7"))
	require.True(t, res.Handled)
	assert.Equal(t, KindConnectList, res.Kind)

	sent := h.provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "msg-1", sent[0].QuotedID)
	assert.Equal(t, allowedUser, sent[0].Message.ChatID)
	assert.Equal(t, "*Please choose one of the approved payment requests:*\n"+
		"\n*1.* Acme | INV-1 | 10 USD"+
		"\n*2.* Beta | INV-2 | 20.5 EUR"+
		"\n*3.* Gamma | INV-3 | 30 TRY", sent[0].Text)

	sess, err := h.sessions.Get(context.Background(), sent[0].Message.ID)
	require.NoError(t, err)
	assert.Equal(t, allowedUser, sess.Owner)
	assert.Equal(t, "doc-7", sess.QuotedDocumentMessageID)
	assert.Equal(t, pdf, sess.Attachment)
	require.Len(t, sess.Candidates, 3)
	for i, want := range []string{"11", "12", "13"} {
		assert.Equal(t, want, sess.Candidates[i].ID.String())
	}
}

func TestConnectRequiresQuotedPDF(t *testing.T) {
	h := newHarness(t)
	h.service.SetCandidates(threeCandidates)

	ev := directEvent("connect")
	ref := h.provider.AddMedia("img", chat.Attachment{MimeType: "image/png"})
	ev.Quoted = &chat.QuotedMessage{MessageID: "q", Media: &ref}

	res := h.dispatcher.Dispatch(context.Background(), ev)
	assert.False(t, res.Handled)
	assert.Empty(t, h.service.Calls())

	// Without a quote the keyword alone does nothing.
	res = h.dispatcher.Dispatch(context.Background(), directEvent("connect"))
	assert.False(t, res.Handled)
}

func TestConnectWithNoCandidates(t *testing.T) {
	h := newHarness(t)

	res := h.dispatcher.Dispatch(context.Background(), h.quotingPDF(directEvent("connect"), "doc-1"))
	require.True(t, res.Handled)

	sent := h.provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "❌ No approved payment requests found.", sent[0].Text)

	list, err := h.sessions.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestConnectBackendDownRepliesWithNotice(t *testing.T) {
	h := newHarness(t)
	h.service.SetCandidates("not json")

	res := h.dispatcher.Dispatch(context.Background(), h.quotingPDF(directEvent("connect"), "doc-1"))
	assert.True(t, res.Handled)

	sent := h.provider.Sent()
	require.Len(t, sent, 1)
	assert.True(t, strings.HasPrefix(sent[0].Text, "❌ Server error"))
	assert.NotContains(t, sent[0].Text, testSecret)
}

// presentList runs the connect flow and returns the list message id.
func presentList(t *testing.T, h *harness) string {
	t.Helper()
	h.service.SetCandidates(threeCandidates)
	res := h.dispatcher.Dispatch(context.Background(), h.quotingPDF(directEvent("connect"), "doc-1"))
	require.Equal(t, KindConnectList, res.Kind)
	sent := h.provider.Sent()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1].Message.ID
}

func selectionEvent(listID, text string) chat.InboundEvent {
	ev := directEvent(text)
	ev.MessageID = "reply-" + text
	ev.Quoted = &chat.QuotedMessage{MessageID: listID, Text: "*Please choose...*"}
	return ev
}

func linkCalls(fs *fakeService) []call {
	var out []call
	for _, c := range fs.Calls() {
		if c.Path == "/api/bot/link_receipt" {
			out = append(out, c)
		}
	}
	return out
}

func TestNumericSelectionResolvesAndConsumes(t *testing.T) {
	h := newHarness(t)
	listID := presentList(t, h)

	res := h.dispatcher.Dispatch(context.Background(), selectionEvent(listID, " 2 "))
	require.True(t, res.Handled)
	assert.Equal(t, KindNumericSelection, res.Kind)

	links := linkCalls(h.service)
	require.Len(t, links, 1)
	assert.Equal(t, float64(12), links[0].Body["payment_request_id"])
	assert.Equal(t, "invoice.pdf", links[0].Body["filename"])
	assert.Equal(t, "application/pdf", links[0].Body["mimetype"])
	assert.Equal(t, pdf.Base64(), links[0].Body["data"])

	sent := h.provider.Sent()
	assert.Equal(t, "✅ PDF has been linked to request #12 successfully.", sent[len(sent)-1].Text)

	_, err := h.sessions.Get(context.Background(), listID)
	assert.ErrorIs(t, err, selection.ErrSessionNotFound)

	// A second answer finds nothing and stays silent.
	before := len(h.provider.Sent())
	res = h.dispatcher.Dispatch(context.Background(), selectionEvent(listID, "2"))
	assert.True(t, res.Handled)
	assert.Len(t, h.provider.Sent(), before)
	assert.Len(t, linkCalls(h.service), 1)
}

func TestNumericSelectionOutOfRangeKeepsSession(t *testing.T) {
	h := newHarness(t)
	listID := presentList(t, h)

	for _, text := range []string{"5", "0", "-1", "99999999999999999999"} {
		res := h.dispatcher.Dispatch(context.Background(), selectionEvent(listID, text))
		require.True(t, res.Handled)

		sent := h.provider.Sent()
		assert.Equal(t, "❌ Invalid selection.", sent[len(sent)-1].Text)

		_, err := h.sessions.Get(context.Background(), listID)
		assert.NoError(t, err, "session must survive %q", text)
	}
	assert.Empty(t, linkCalls(h.service))
}

func TestNumericSelectionFailuresKeepSession(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reply  string
	}{
		{name: "rejected", status: http.StatusOK, body: `{"success":false,"error":"already linked"}`, reply: "❌ An error occurred: already linked"},
		{name: "not json", status: http.StatusInternalServerError, body: "<html>500</html>", reply: "❌ Server error: Invalid response."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			listID := presentList(t, h)
			h.service.SetLink(func(map[string]any) (int, string) { return tt.status, tt.body })

			res := h.dispatcher.Dispatch(context.Background(), selectionEvent(listID, "1"))
			require.True(t, res.Handled)

			sent := h.provider.Sent()
			assert.Equal(t, tt.reply, sent[len(sent)-1].Text)

			_, err := h.sessions.Get(context.Background(), listID)
			assert.NoError(t, err)
		})
	}
}

// takeCounter records how often a session is claimed.
type takeCounter struct {
	*selection.MemoryStore
	takes atomic.Int32
}

func (c *takeCounter) Take(ctx context.Context, id string) (*selection.Session, error) {
	c.takes.Add(1)
	return c.MemoryStore.Take(ctx, id)
}

func TestNumericSelectionFromNonOwnerIsIgnored(t *testing.T) {
	var counter *takeCounter
	h := newHarness(t, func(o *Options) {
		o.Filter = allowlist.New(allowlist.Rules{Groups: []string{allowedName}, Numbers: []string{allowedUser}})
		counter = &takeCounter{MemoryStore: o.Sessions.(*selection.MemoryStore)}
		o.Sessions = counter
	})
	h.service.SetCandidates(threeCandidates)

	owner := h.quotingPDF(groupEvent(allowedName, "connect"), "doc-1")
	require.Equal(t, KindConnectList, h.dispatcher.Dispatch(context.Background(), owner).Kind)
	listID := h.provider.Sent()[0].Message.ID

	other := groupEvent(allowedName, "1")
	other.SourceID = "905999999999@c.us"
	other.Quoted = &chat.QuotedMessage{MessageID: listID}

	res := h.dispatcher.Dispatch(context.Background(), other)
	assert.True(t, res.Handled)
	assert.Len(t, h.provider.Sent(), 1)
	assert.Empty(t, linkCalls(h.service))
	assert.Zero(t, counter.takes.Load(), "non-owner must not claim the session")

	_, err := h.sessions.Get(context.Background(), listID)
	require.NoError(t, err)

	mine := groupEvent(allowedName, "1")
	mine.MessageID = "msg-owner"
	mine.Quoted = &chat.QuotedMessage{MessageID: listID}

	res = h.dispatcher.Dispatch(context.Background(), mine)
	assert.Equal(t, KindNumericSelection, res.Kind)
	assert.Len(t, linkCalls(h.service), 1)
	assert.EqualValues(t, 1, counter.takes.Load())

	_, err = h.sessions.Get(context.Background(), listID)
	assert.ErrorIs(t, err, selection.ErrSessionNotFound)
}

func TestNonNumericQuotedReplyIsNotSelection(t *testing.T) {
	h := newHarness(t)
	res := h.dispatcher.Dispatch(context.Background(), selectionEvent("list-x", "two"))
	assert.False(t, res.Handled)
	assert.Empty(t, h.service.Calls())
}

type panicHandler struct{}

func (panicHandler) Kind() Kind { return "panics" }
func (panicHandler) Handle(context.Context, *Event) (bool, error) {
	panic("handler bug")
}

func TestPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.handlers = append([]Handler{panicHandler{}}, h.dispatcher.handlers...)

	var res Result
	assert.NotPanics(t, func() {
		res = h.dispatcher.Dispatch(context.Background(), h.withPDF(directEvent("")))
	})
	assert.True(t, res.Handled)
	assert.Equal(t, KindDocumentForward, res.Kind)

	handled, err := h.dispatcher.run(context.Background(), panicHandler{}, newEvent(directEvent(""), h.provider))
	assert.False(t, handled)
	assert.True(t, IsPanic(err))
}

func TestMessageRelay(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RelayUnhandled = true })
	h.service.SetMessage(`{"reply":"Noted, thanks","quoted_id":"msg-1"}`)

	ev := groupEvent(allowedName, "hello bot")
	ev.Timestamp = time.Unix(1700000123, 0)
	ev = h.quotingPDF(ev, "q-9")

	res := h.dispatcher.Dispatch(context.Background(), ev)
	require.True(t, res.Handled)
	assert.Equal(t, KindMessageRelay, res.Kind)

	var relayed *call
	for _, c := range h.service.Calls() {
		if c.Path == "/message" {
			c := c
			relayed = &c
		}
	}
	require.NotNil(t, relayed)
	body := relayed.Body
	assert.Equal(t, "905000000000@c.us", body["from"])
	assert.Equal(t, "msg-g", body["id"])
	assert.Equal(t, "group-1@g.us", body["chat_id"])
	assert.Equal(t, allowedName, body["name"])
	assert.Equal(t, "group", body["type"])
	assert.Equal(t, true, body["is_reply"])
	assert.Equal(t, "q-9", body["quoted_msg_id"])
	assert.Equal(t, float64(1700000123), body["timestamp"])
	assert.Equal(t, pdf.Base64(), body["quoted_data"])
	assert.NotContains(t, body, "data")

	sent := h.provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Noted, thanks", sent[0].Text)
	assert.Equal(t, "msg-1", sent[0].QuotedID)
	assert.Equal(t, "group-1@g.us", sent[0].Message.ChatID)
}

func TestMessageRelayQuoteFallback(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.RelayUnhandled = true })
	h.service.SetMessage(`{"reply":"ok","quoted_id":"gone"}`)
	h.provider.ExpiredQuotes["gone"] = true

	res := h.dispatcher.Dispatch(context.Background(), directEvent("hi"))
	require.True(t, res.Handled)

	sent := h.provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ok", sent[0].Text)
	assert.Empty(t, sent[0].QuotedID)
}

func TestUnhandledWithoutRelay(t *testing.T) {
	h := newHarness(t)
	res := h.dispatcher.Dispatch(context.Background(), directEvent("just chatting"))
	assert.False(t, res.Handled)
	assert.False(t, res.Filtered)
	assert.Empty(t, h.service.Calls())
}
