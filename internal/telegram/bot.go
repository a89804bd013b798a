// Package telegram owns the chat transport: webhook registration, update
// decoding, voice transcription and outbound replies.
package telegram

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Bot wraps the Telegram Bot API client.
type Bot struct {
	api         *tgbotapi.BotAPI
	webhookURL  string
	secretToken string
	logger      *slog.Logger
	httpClient  *http.Client
}

// NewBot authenticates against the Bot API.
func NewBot(token, webhookURL, secretToken string, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bot API")
	}

	logger.Info("Telegram bot authorized", "account", api.Self.UserName)

	return &Bot{
		api:         api,
		webhookURL:  webhookURL,
		secretToken: secretToken,
		logger:      logger,
		httpClient:  &http.Client{},
	}, nil
}

// SetupWebhook replaces any existing webhook registration with ours. The
// secret token, when configured, is echoed by Telegram on every delivery and
// validated by the webhook handler.
func (b *Bot) SetupWebhook() error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		b.logger.Warn("Failed to delete existing webhook", "error", err)
	}

	if b.secretToken != "" {
		params := tgbotapi.Params{
			"url":          b.webhookURL,
			"secret_token": b.secretToken,
		}
		if _, err := b.api.MakeRequest("setWebhook", params); err != nil {
			return errors.Wrap(err, "failed to set webhook with secret token")
		}
	} else {
		webhookConfig, err := tgbotapi.NewWebhook(b.webhookURL)
		if err != nil {
			return errors.Wrap(err, "failed to create webhook config")
		}
		if _, err := b.api.Request(webhookConfig); err != nil {
			return errors.Wrap(err, "failed to set webhook")
		}
	}

	b.logger.Info("Webhook registered", "url", b.webhookURL)

	if info, err := b.WebhookInfo(); err == nil {
		b.logger.Info("Webhook diagnostics",
			"pending_updates", info.PendingUpdateCount,
			"last_error", info.LastErrorMessage)
	}
	return nil
}

// WebhookInfo reports the current webhook registration.
func (b *Bot) WebhookInfo() (tgbotapi.WebhookInfo, error) {
	info, err := b.api.GetWebhookInfo()
	if err != nil {
		return tgbotapi.WebhookInfo{}, errors.Wrap(err, "failed to query webhook info")
	}
	return info, nil
}

// CleanupWebhook removes the webhook registration on shutdown without
// dropping queued updates.
func (b *Bot) CleanupWebhook() error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: false}); err != nil {
		return errors.Wrap(err, "failed to delete webhook")
	}
	return nil
}

// SendReply sends text as a threaded reply to the triggering message.
func (b *Bot) SendReply(chatID int64, messageID int, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = messageID
	if _, err := b.api.Send(msg); err != nil {
		return errors.Wrap(err, "failed to send reply")
	}
	return nil
}

// Send sends a standalone message to the chat.
func (b *Bot) Send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return errors.Wrap(err, "failed to send message")
	}
	return nil
}

// DownloadFile fetches the content of a Telegram file, used for voice notes.
func (b *Bot) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve file")
	}

	url := file.Link(b.api.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create download request")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download file")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("file download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read file content")
	}
	return data, nil
}

// Ping verifies Bot API connectivity.
func (b *Bot) Ping(_ context.Context) error {
	if _, err := b.api.GetMe(); err != nil {
		return errors.Wrap(err, "bot API unreachable")
	}
	return nil
}
