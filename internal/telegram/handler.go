package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lagerbot/warehouse-bot/internal/pipeline"
	"github.com/lagerbot/warehouse-bot/pkg/metrics"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// defaultProcessTimeout bounds one message end to end, including the
// collaborator retries.
const defaultProcessTimeout = 2 * time.Minute

const (
	textVoiceFailed      = "❌ Sprachnachricht konnte nicht verarbeitet werden."
	textTranscriptNotice = "📝 Transkript: %s"
)

// Processor runs one inbound message through the pipeline.
type Processor interface {
	Process(ctx context.Context, in pipeline.Inbound) (*pipeline.Reply, error)
}

// Sender is the outbound side of the bot used by the webhook handler.
type Sender interface {
	SendReply(chatID int64, messageID int, text string) error
	Send(chatID int64, text string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Handler receives webhook deliveries, decodes them and hands text off to the
// pipeline. Deliveries are acknowledged immediately; processing continues in
// the background so Telegram does not retry on slow collaborators.
type Handler struct {
	sender         Sender
	transcriber    Transcriber
	processor      Processor
	secretToken    string
	processTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// NewHandler creates a webhook handler.
func NewHandler(sender Sender, transcriber Transcriber, processor Processor, secretToken string, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		sender:         sender,
		transcriber:    transcriber,
		processor:      processor,
		secretToken:    secretToken,
		processTimeout: defaultProcessTimeout,
		logger:         logger,
		metrics:        m,
	}
}

// HandleWebhook is the gin handler for POST deliveries from Telegram.
func (h *Handler) HandleWebhook(c *gin.Context) {
	if h.secretToken != "" {
		if c.GetHeader(secretTokenHeader) != h.secretToken {
			h.logger.Warn("Webhook delivery with invalid secret token",
				"remote_addr", c.ClientIP())
			c.Status(http.StatusUnauthorized)
			return
		}
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		h.logger.Warn("Failed to decode webhook update", "error", err)
		c.Status(http.StatusBadRequest)
		return
	}

	if update.Message == nil || (update.Message.Text == "" && update.Message.Voice == nil) {
		c.Status(http.StatusOK)
		return
	}

	go h.processMessage(update.Message)
	c.Status(http.StatusOK)
}

func (h *Handler) processMessage(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), h.processTimeout)
	defer cancel()

	chatID := msg.Chat.ID
	logger := h.logger.With("chat_id", chatID, "message_id", msg.MessageID)

	in := pipeline.Inbound{
		ChatID:    chatID,
		MessageID: msg.MessageID,
		Kind:      pipeline.KindText,
		Text:      msg.Text,
	}
	if msg.From != nil {
		userID := msg.From.ID
		in.UserID = &userID
		if msg.From.UserName != "" {
			username := msg.From.UserName
			in.Username = &username
		}
	}

	if msg.Voice != nil {
		text, ok := h.transcribeVoice(ctx, logger, msg)
		if !ok {
			return
		}
		in.Kind = pipeline.KindVoice
		in.Text = text
	}

	reply, err := h.processor.Process(ctx, in)
	if err != nil {
		logger.Error("Pipeline returned no reply", "error", err)
		return
	}

	if err := h.sender.SendReply(chatID, msg.MessageID, reply.Text); err != nil {
		logger.Error("Failed to send reply", "error", err)
	}
	if reply.AlertText != "" {
		if err := h.sender.Send(chatID, reply.AlertText); err != nil {
			logger.Error("Failed to send alert message", "error", err)
		}
	}
}

// transcribeVoice downloads and transcribes a voice note. The transcript is
// echoed back so the sender can spot recognition mistakes.
func (h *Handler) transcribeVoice(ctx context.Context, logger *slog.Logger, msg *tgbotapi.Message) (string, bool) {
	start := time.Now()

	audio, err := h.sender.DownloadFile(ctx, msg.Voice.FileID)
	if err != nil {
		logger.Error("Failed to download voice note", "error", err)
		h.metrics.TranscriptionsTotal.WithLabelValues("download_failed").Inc()
		h.replyVoiceFailed(logger, msg)
		return "", false
	}

	text, err := h.transcriber.Transcribe(ctx, audio, "voice.oga")
	if err != nil {
		logger.Error("Transcription failed", "error", err)
		h.metrics.TranscriptionsTotal.WithLabelValues("failed").Inc()
		h.metrics.TranscriptionSeconds.WithLabelValues("failed").Observe(time.Since(start).Seconds())
		h.replyVoiceFailed(logger, msg)
		return "", false
	}

	h.metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()
	h.metrics.TranscriptionSeconds.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	logger.Info("Voice note transcribed", "duration_ms", time.Since(start).Milliseconds())

	if err := h.sender.SendReply(msg.Chat.ID, msg.MessageID, fmt.Sprintf(textTranscriptNotice, text)); err != nil {
		logger.Warn("Failed to send transcript notice", "error", err)
	}
	return text, true
}

func (h *Handler) replyVoiceFailed(logger *slog.Logger, msg *tgbotapi.Message) {
	if err := h.sender.SendReply(msg.Chat.ID, msg.MessageID, textVoiceFailed); err != nil {
		logger.Error("Failed to send voice failure reply", "error", err)
	}
}
