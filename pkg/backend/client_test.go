package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harun/docrelay/pkg/signing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "shared-secret"

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate ...func(*Options)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts := Options{BaseURL: srv.URL + "/", Secret: testSecret, Sign: true}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestPostSignsExactBytes(t *testing.T) {
	verifier := signing.NewVerifier(testSecret, time.Minute)

	var gotBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = body

		env, err := signing.FromHeader(r.Header)
		require.NoError(t, err)
		assert.NoError(t, verifier.Verify(env, body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	})

	resp, err := c.Post(context.Background(), "/process_whatsapp_pdf", map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.JSONEq(t, `{"a":"b"}`, string(gotBody))
}

func TestUnsignedClientSendsNoEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(signing.HeaderSignature))
		w.WriteHeader(http.StatusNoContent)
	}, func(o *Options) { o.Sign = false; o.Secret = "" })

	_, err := c.Get(context.Background(), "/get_approved_requests_json")
	require.NoError(t, err)
}

func TestNewRequiresSecretWhenSigning(t *testing.T) {
	_, err := New(Options{Sign: true}, zerolog.Nop())
	assert.Error(t, err)
}

func TestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(o *Options) { o.Timeout = 50 * time.Millisecond })
	defer close(release)

	_, err := c.Post(context.Background(), "/process_whatsapp_pdf", struct{}{})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.NotContains(t, err.Error(), testSecret)
}

func TestMessagePathUsesLongerTimeout(t *testing.T) {
	c, err := New(Options{Timeout: time.Second, MessageTimeout: 3 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, c.timeoutFor("/message"))
	assert.Equal(t, time.Second, c.timeoutFor("/api/bot/link_receipt"))
}

func TestCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/get_approved_requests_json", r.URL.Path)
		w.Write([]byte(`{"requests":[
			{"id":7,"company_name":"Acme","invoice_number":"INV-1","amount":12.5,"currency":"USD"},
			{"id":"x9","company_name":"Beta","invoice_number":42,"amount":"100","currency":"EUR"}
		]}`))
	})

	got, err := c.Candidates(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "7", got[0].ID.String())
	assert.Equal(t, "12.5", got[0].Amount.String())
	assert.Equal(t, "x9", got[1].ID.String())
	assert.Equal(t, "42", got[1].InvoiceNumber.String())

	raw, err := json.Marshal(got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "7", string(raw))
}

func TestCandidatesProtocolError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>oops</html>"))
	})

	_, err := c.Candidates(context.Background())
	require.Error(t, err)
	assert.True(t, IsProtocol(err))
}

func TestIngestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	err := c.Ingest(context.Background(), IngestRequest{Filename: "a.pdf"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestLinkDecodesFailureVerdict(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req LinkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "7", req.PaymentRequestID.String())
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"error":"already linked"}`))
	})

	res, err := c.Link(context.Background(), LinkRequest{PaymentRequestID: ScalarOf(7)})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "already linked", res.ErrorText())
}

func TestRelayMessage(t *testing.T) {
	t.Run("reply", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/message", r.URL.Path)
			w.Write([]byte(`{"reply":"hi","quoted_id":"m1"}`))
		})
		reply, err := c.RelayMessage(context.Background(), MessagePayload{ID: "m1"})
		require.NoError(t, err)
		require.NotNil(t, reply)
		assert.Equal(t, "hi", reply.Reply)
		assert.Equal(t, "m1", reply.QuotedID)
	})

	t.Run("nothing to say", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		})
		reply, err := c.RelayMessage(context.Background(), MessagePayload{})
		require.NoError(t, err)
		assert.Nil(t, reply)
	})
}

func TestScalar(t *testing.T) {
	var s Scalar
	assert.True(t, s.IsZero())
	assert.Equal(t, "", s.String())

	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &s))
	assert.Equal(t, "abc", s.String())

	raw, err := json.Marshal(ScalarOf(3))
	require.NoError(t, err)
	assert.Equal(t, "3", string(raw))
}
