package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultTranscriptionTimeout bounds one transcription round trip.
const DefaultTranscriptionTimeout = 60 * time.Second

const (
	whisperModel    = "whisper-1"
	whisperLanguage = "de"
)

// Transcriber converts a voice recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// WhisperTranscriber implements Transcriber against an OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperTranscriber struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewWhisperTranscriber creates a transcriber. A non-positive timeout selects
// the 60s default.
func NewWhisperTranscriber(apiKey, baseURL string, timeout time.Duration) (*WhisperTranscriber, error) {
	if apiKey == "" {
		return nil, errors.New("whisper: API key is required")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = DefaultTranscriptionTimeout
	}
	return &WhisperTranscriber{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}, nil
}

type transcriptionResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Transcribe uploads the recording and returns the recognized text. An empty
// transcription is an error: the caller cannot extract anything from it.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.Wrap(err, "failed to create form file")
	}
	if _, err := part.Write(audio); err != nil {
		return "", errors.Wrap(err, "failed to write audio data")
	}
	if err := writer.WriteField("model", whisperModel); err != nil {
		return "", errors.Wrap(err, "failed to write model field")
	}
	if err := writer.WriteField("language", whisperLanguage); err != nil {
		return "", errors.Wrap(err, "failed to write language field")
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finalize form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to send transcription request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read transcription response")
	}

	var result transcriptionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", errors.Wrap(err, "failed to decode transcription response")
	}
	if result.Error != nil {
		return "", errors.Errorf("transcription failed: %s", result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("transcription failed with status %d", resp.StatusCode)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return "", errors.New("transcription returned no text")
	}
	return text, nil
}
