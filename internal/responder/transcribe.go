package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	transcribeAttempts = 3
	transcribeBackoff  = time.Second
)

// AudioPipeline downloads a voice note and turns it into text through
// an OpenAI-compatible transcription endpoint. It satisfies the
// ingestor's Transcriber dependency.
type AudioPipeline struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client

	backoff time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewAudioPipeline(apiKey, baseURL, model string) *AudioPipeline {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "whisper-1"
	}
	return &AudioPipeline{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{},
		backoff: transcribeBackoff,
		sleep:   sleepCtx,
	}
}

// TranscribeURL fetches the voice note at url and returns its
// transcript. declaredMime is what the gateway claimed the payload is;
// the actual container is sniffed from the bytes.
func (p *AudioPipeline) TranscribeURL(ctx context.Context, url, declaredMime string) (string, error) {
	if err := validateKey(p.apiKey); err != nil {
		return "", err
	}

	data, err := p.fetchAudio(ctx, url)
	if err != nil {
		return "", err
	}

	format := sniffFormat(data)
	if declaredMime != "" && !strings.HasPrefix(declaredMime, format.MIME) {
		slog.Debug("audio mime mismatch", "declared", declaredMime, "sniffed", format.MIME)
	}

	var lastErr error
	for attempt := 1; attempt <= transcribeAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, time.Duration(attempt-1)*p.backoff); err != nil {
				return "", err
			}
		}
		text, err := p.transcribe(ctx, data, "voice"+format.Ext, format.MIME)
		if err == nil {
			return text, nil
		}
		lastErr = err
		slog.Warn("transcription attempt failed", "attempt", attempt, "error", err)
	}
	return "", fmt.Errorf("transcription failed after %d attempts: %w", transcribeAttempts, lastErr)
}

// transcribe performs one multipart upload to the transcription
// endpoint.
func (p *AudioPipeline) transcribe(ctx context.Context, data []byte, filename, mimeType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.WriteField("model", p.model); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call transcription endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProviderError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}
