package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lagerbot/warehouse-bot/internal/pipeline"
	"github.com/lagerbot/warehouse-bot/pkg/metrics"
)

var testMetrics = metrics.New()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMessage struct {
	chatID    int64
	messageID int
	text      string
}

type fakeSender struct {
	mu       sync.Mutex
	messages []sentMessage
	audio    []byte
	fileErr  error
}

func (f *fakeSender) SendReply(chatID int64, messageID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{chatID, messageID, text})
	return nil
}

func (f *fakeSender) Send(chatID int64, text string) error {
	return f.SendReply(chatID, 0, text)
}

func (f *fakeSender) DownloadFile(_ context.Context, _ string) ([]byte, error) {
	return f.audio, f.fileErr
}

func (f *fakeSender) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	return f.text, f.err
}

type fakeProcessor struct {
	reply    *pipeline.Reply
	received chan pipeline.Inbound
}

func newFakeProcessor(reply *pipeline.Reply) *fakeProcessor {
	return &fakeProcessor{reply: reply, received: make(chan pipeline.Inbound, 4)}
}

func (f *fakeProcessor) Process(_ context.Context, in pipeline.Inbound) (*pipeline.Reply, error) {
	f.received <- in
	return f.reply, nil
}

func (f *fakeProcessor) wait(t *testing.T) pipeline.Inbound {
	t.Helper()
	select {
	case in := <-f.received:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline was not invoked")
		return pipeline.Inbound{}
	}
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/webhook/telegram", h.HandleWebhook)
	return router
}

func postUpdate(t *testing.T, router *gin.Engine, update tgbotapi.Update, secret string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(update)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(secretTokenHeader, secret)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func textUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 7,
		Message: &tgbotapi.Message{
			MessageID: 42,
			From:      &tgbotapi.User{ID: 999, UserName: "monteur"},
			Chat:      &tgbotapi.Chat{ID: -5025798709},
			Text:      text,
		},
	}
}

func TestHandleWebhook_SecretToken(t *testing.T) {
	processor := newFakeProcessor(&pipeline.Reply{Text: "ok"})
	handler := NewHandler(&fakeSender{}, &fakeTranscriber{}, processor, "s3cret", testLogger(), testMetrics)
	router := newTestRouter(handler)

	t.Run("missing token is rejected", func(t *testing.T) {
		w := postUpdate(t, router, textUpdate("entnimm 2 Leiter"), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong token is rejected", func(t *testing.T) {
		w := postUpdate(t, router, textUpdate("entnimm 2 Leiter"), "falsch")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("correct token is accepted", func(t *testing.T) {
		w := postUpdate(t, router, textUpdate("entnimm 2 Leiter"), "s3cret")
		assert.Equal(t, http.StatusOK, w.Code)
		processor.wait(t)
	})
}

func TestHandleWebhook_TextMessage(t *testing.T) {
	sender := &fakeSender{}
	processor := newFakeProcessor(&pipeline.Reply{Text: "✓ Entnahme: 2 Stk Leiter"})
	handler := NewHandler(sender, &fakeTranscriber{}, processor, "", testLogger(), testMetrics)
	router := newTestRouter(handler)

	w := postUpdate(t, router, textUpdate("entnimm 2 Leiter"), "")
	assert.Equal(t, http.StatusOK, w.Code)

	in := processor.wait(t)
	assert.Equal(t, int64(-5025798709), in.ChatID)
	assert.Equal(t, 42, in.MessageID)
	assert.Equal(t, "entnimm 2 Leiter", in.Text)
	assert.Equal(t, pipeline.KindText, in.Kind)
	require.NotNil(t, in.UserID)
	assert.Equal(t, int64(999), *in.UserID)

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	reply := sender.sent()[0]
	assert.Equal(t, int64(-5025798709), reply.chatID)
	assert.Equal(t, 42, reply.messageID)
	assert.Equal(t, "✓ Entnahme: 2 Stk Leiter", reply.text)
}

func TestHandleWebhook_AlertGoesOutSeparately(t *testing.T) {
	sender := &fakeSender{}
	processor := newFakeProcessor(&pipeline.Reply{Text: "✓", AlertText: "⚠️ Niedriger Bestand"})
	handler := NewHandler(sender, &fakeTranscriber{}, processor, "", testLogger(), testMetrics)
	router := newTestRouter(handler)

	postUpdate(t, router, textUpdate("entnimm 2 Leiter"), "")
	processor.wait(t)

	require.Eventually(t, func() bool {
		return len(sender.sent()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	messages := sender.sent()
	assert.Equal(t, "✓", messages[0].text)
	assert.Equal(t, "⚠️ Niedriger Bestand", messages[1].text)
	assert.Equal(t, 0, messages[1].messageID, "alert is not a threaded reply")
}

func TestHandleWebhook_VoiceMessage(t *testing.T) {
	update := textUpdate("")
	update.Message.Voice = &tgbotapi.Voice{FileID: "voice-1", Duration: 4}

	t.Run("transcript feeds the pipeline", func(t *testing.T) {
		sender := &fakeSender{audio: []byte("OggS...")}
		processor := newFakeProcessor(&pipeline.Reply{Text: "✓"})
		transcriber := &fakeTranscriber{text: "entnimm zwei Leitern"}
		handler := NewHandler(sender, transcriber, processor, "", testLogger(), testMetrics)
		router := newTestRouter(handler)

		w := postUpdate(t, router, update, "")
		assert.Equal(t, http.StatusOK, w.Code)

		in := processor.wait(t)
		assert.Equal(t, pipeline.KindVoice, in.Kind)
		assert.Equal(t, "entnimm zwei Leitern", in.Text)

		require.Eventually(t, func() bool {
			return len(sender.sent()) == 2
		}, 2*time.Second, 10*time.Millisecond)
		assert.Contains(t, sender.sent()[0].text, "📝 Transkript: entnimm zwei Leitern")
	})

	t.Run("transcription failure replies an error", func(t *testing.T) {
		sender := &fakeSender{audio: []byte("OggS...")}
		processor := newFakeProcessor(&pipeline.Reply{Text: "✓"})
		transcriber := &fakeTranscriber{err: errors.New("no speech")}
		handler := NewHandler(sender, transcriber, processor, "", testLogger(), testMetrics)
		router := newTestRouter(handler)

		w := postUpdate(t, router, update, "")
		assert.Equal(t, http.StatusOK, w.Code)

		require.Eventually(t, func() bool {
			return len(sender.sent()) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, textVoiceFailed, sender.sent()[0].text)
		assert.Empty(t, processor.received)
	})
}

func TestHandleWebhook_IgnoresNonMessages(t *testing.T) {
	processor := newFakeProcessor(&pipeline.Reply{Text: "✓"})
	handler := NewHandler(&fakeSender{}, &fakeTranscriber{}, processor, "", testLogger(), testMetrics)
	router := newTestRouter(handler)

	t.Run("update without message", func(t *testing.T) {
		w := postUpdate(t, router, tgbotapi.Update{UpdateID: 8}, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("sticker message", func(t *testing.T) {
		update := textUpdate("")
		update.Message.Sticker = &tgbotapi.Sticker{FileID: "sticker-1"}
		w := postUpdate(t, router, update, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	assert.Empty(t, processor.received)
}
