package telegram

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/harun/docrelay/internal/config"
	"github.com/harun/docrelay/internal/logger"
	"github.com/stretchr/testify/require"
)

const testToken = "123456:TESTTOKEN"

type fakeSend struct {
	Method   string
	ChatID   int64
	Text     string
	ReplyTo  int
	Filename string
	Data     []byte
}

type fakeFile struct {
	path string
	data []byte
}

// fakeAPI is a minimal Bot API server.
type fakeAPI struct {
	srv *httptest.Server

	mu            sync.Mutex
	nextID        int
	sends         []fakeSend
	chats         map[string]tgbotapi.Chat // by id or @username
	files         map[string]fakeFile
	rejectReplies bool
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		nextID: 100,
		chats:  make(map[string]tgbotapi.Chat),
		files:  make(map[string]fakeFile),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) addChat(c tgbotapi.Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats[strconv.FormatInt(c.ID, 10)] = c
	if c.UserName != "" {
		f.chats["@"+c.UserName] = c
	}
}

func (f *fakeAPI) addFile(id, path string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[id] = fakeFile{path: path, data: data}
}

func (f *fakeAPI) setRejectReplies(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectReplies = v
}

func (f *fakeAPI) sent() []fakeSend {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeSend(nil), f.sends...)
}

func (f *fakeAPI) newBot(t *testing.T) *Bot {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", File: filepath.Join(t.TempDir(), "telegram.log")})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	bot, err := New(&config.TelegramConfig{BotToken: testToken, PollTimeout: 1}, log,
		WithEndpoints(f.srv.URL+"/bot%s/%s", f.srv.URL+"/file/bot%s/%s"))
	require.NoError(t, err)
	return bot
}

func writeOK(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": json.RawMessage(raw)})
}

func writeFail(w http.ResponseWriter, desc string) {
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": desc})
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/file/bot"+testToken+"/") {
		f.serveFile(w, strings.TrimPrefix(r.URL.Path, "/file/bot"+testToken+"/"))
		return
	}

	method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
	if err := r.ParseMultipartForm(32 << 20); err != nil && err != http.ErrNotMultipart {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch method {
	case "getMe":
		writeOK(w, tgbotapi.User{ID: 42, IsBot: true, FirstName: "Relay", UserName: "relay_bot"})

	case "getChat":
		c, ok := f.chats[r.FormValue("chat_id")]
		if !ok {
			writeFail(w, "Bad Request: chat not found")
			return
		}
		writeOK(w, c)

	case "getFile":
		file, ok := f.files[r.FormValue("file_id")]
		if !ok {
			writeFail(w, "Bad Request: wrong file_id or the file is temporarily unavailable")
			return
		}
		writeOK(w, tgbotapi.File{FileID: r.FormValue("file_id"), FileSize: len(file.data), FilePath: file.path})

	case "sendMessage", "sendDocument":
		chatID, _ := strconv.ParseInt(r.FormValue("chat_id"), 10, 64)
		replyTo, _ := strconv.Atoi(r.FormValue("reply_to_message_id"))
		if replyTo != 0 && f.rejectReplies {
			writeFail(w, "Bad Request: message to be replied not found")
			return
		}

		s := fakeSend{Method: method, ChatID: chatID, Text: r.FormValue("text"), ReplyTo: replyTo}
		if method == "sendDocument" {
			file, header, err := r.FormFile("document")
			if err != nil {
				writeFail(w, "Bad Request: no document")
				return
			}
			s.Filename = header.Filename
			s.Data, _ = io.ReadAll(file)
			file.Close()
		}
		f.sends = append(f.sends, s)

		c, ok := f.chats[strconv.FormatInt(chatID, 10)]
		if !ok {
			c = tgbotapi.Chat{ID: chatID, Type: "private"}
		}
		f.nextID++
		writeOK(w, tgbotapi.Message{MessageID: f.nextID, Date: 1700000000, Chat: &c})

	default:
		writeFail(w, fmt.Sprintf("Not Found: method %s", method))
	}
}

func (f *fakeAPI) serveFile(w http.ResponseWriter, path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files {
		if file.path == path {
			w.Write(file.data)
			return
		}
	}
	http.NotFound(w, nil)
}
