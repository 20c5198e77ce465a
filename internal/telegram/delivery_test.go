package telegram

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/docrelay/pkg/api"
	"github.com/harun/docrelay/pkg/chat"
	"github.com/harun/docrelay/pkg/delivery"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendTransportErrorHidesToken(t *testing.T) {
	f := newFakeAPI(t)
	bot := f.newBot(t)
	f.srv.Close()

	_, err := bot.SendText(context.Background(), "42", "hi", chat.SendOptions{})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "TESTTOKEN")
}

func TestDeliveryErrorBodyHidesToken(t *testing.T) {
	f := newFakeAPI(t)
	bot := f.newBot(t)
	f.addChat(tgbotapi.Chat{ID: 42, Type: "private", FirstName: "Ops"})

	_, err := bot.ResolveIdentifier(context.Background(), "42")
	require.NoError(t, err)
	f.srv.Close()

	server, err := api.NewServer(api.ServerOptions{APIKey: "k"}, delivery.NewService(bot, nil, zerolog.Nop()), nil, zerolog.Nop())
	require.NoError(t, err)
	defer server.Stop(context.Background())

	req := httptest.NewRequest(http.MethodPost, "/send-to-user",
		bytes.NewBufferString(`{"phoneNumber":"42","message":"hi"}`))
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "k")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "delivery_failed")
	assert.NotContains(t, w.Body.String(), "TESTTOKEN")
	assert.NotContains(t, w.Body.String(), testToken)
}
