// Package external implements acoustic.Backend against a remote audio-event
// classification service over HTTP.
//
// The service contract mirrors the whisper-server style: audio is POSTed as a
// WAV file in multipart/form-data to /classify, and the response is a JSON
// body of category hypotheses. Availability is probed via GET /health and
// cached, so a dead service costs one request per probe interval rather than
// one per frame.
package external

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/attune/pkg/provider/acoustic"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultProbeInterval = 30 * time.Second
)

// Compile-time assertion that Backend implements acoustic.Backend.
var _ acoustic.Backend = (*Backend)(nil)

// Option is a functional option for configuring a [Backend].
type Option func(*Backend)

// WithTimeout sets the per-request HTTP timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.httpClient.Timeout = d
		}
	}
}

// WithProbeInterval sets how long an availability probe result is cached.
// Defaults to 30s.
func WithProbeInterval(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.probeInterval = d
		}
	}
}

// Backend classifies audio frames via a remote HTTP service.
type Backend struct {
	serverURL     string
	httpClient    *http.Client
	probeInterval time.Duration

	mu        sync.Mutex
	lastProbe time.Time
	lastOK    bool
	closed    bool
}

// New creates a Backend for the classification service at serverURL
// (e.g., "http://localhost:9090"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Backend, error) {
	if serverURL == "" {
		return nil, errors.New("external: serverURL must not be empty")
	}
	b := &Backend{
		serverURL:     serverURL,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		probeInterval: defaultProbeInterval,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Available probes GET /health, caching the result for the probe interval.
func (b *Backend) Available() bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	if time.Since(b.lastProbe) < b.probeInterval {
		ok := b.lastOK
		b.mu.Unlock()
		return ok
	}
	b.mu.Unlock()

	ok := b.probe()

	b.mu.Lock()
	b.lastProbe = time.Now()
	b.lastOK = ok
	b.mu.Unlock()
	return ok
}

func (b *Backend) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), b.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.serverURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// classifyResponse is the service's JSON reply.
type classifyResponse struct {
	Events []struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	} `json:"events"`
}

// Classify POSTs the frame as a WAV file and returns the service's category
// hypotheses, ordered by descending confidence.
func (b *Backend) Classify(ctx context.Context, pcm []byte, sampleRate int) ([]acoustic.Event, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, acoustic.ErrUnavailable
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "frame.wav")
	if err != nil {
		return nil, fmt.Errorf("external: create form file: %w", err)
	}
	if _, err := fw.Write(encodeWAV(pcm, sampleRate, 1)); err != nil {
		return nil, fmt.Errorf("external: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("external: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverURL+"/classify", &body)
	if err != nil {
		return nil, fmt.Errorf("external: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("external: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("external: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("external: read response body: %w", err)
	}

	var parsed classifyResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("external: parse JSON response: %w", err)
	}

	events := make([]acoustic.Event, len(parsed.Events))
	for i, ev := range parsed.Events {
		events[i] = acoustic.Event{Category: ev.Category, Confidence: ev.Confidence}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Confidence > events[j].Confidence
	})
	return events, nil
}

// Close marks the backend unusable. Idempotent.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// encodeWAV wraps raw PCM16LE samples in a minimal RIFF/WAVE header.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
