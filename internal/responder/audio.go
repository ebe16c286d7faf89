package responder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// maxAudioBytes caps a fetched voice note. Larger payloads are
	// rejected before any transcription attempt.
	maxAudioBytes = 25 << 20

	// audioFetchTimeout bounds the media download.
	audioFetchTimeout = 30 * time.Second
)

// ErrAudioTooLarge means the voice note exceeds maxAudioBytes.
var ErrAudioTooLarge = errors.New("audio payload exceeds size limit")

// ErrAudioEmpty means the media URL returned no payload.
var ErrAudioEmpty = errors.New("audio payload is empty")

// fetchAudio downloads the voice-note payload with the fetch timeout
// and size ceiling applied. An oversized Content-Length fails before
// the body is read at all.
func (p *AudioPipeline) fetchAudio(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, audioFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch media: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxAudioBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrAudioTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrAudioEmpty
	}
	if len(data) > maxAudioBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrAudioTooLarge, maxAudioBytes)
	}
	return data, nil
}
