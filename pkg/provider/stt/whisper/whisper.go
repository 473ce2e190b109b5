// Package whisper provides whisper.cpp-backed STT providers.
//
// Two variants are available:
//
//   - [Provider] connects to a running whisper-server binary (REST API at
//     POST /inference) over HTTP.
//   - [NativeProvider] uses the whisper.cpp CGO bindings directly, loading
//     the model in-process.
//
// Because whisper.cpp is a batch (non-streaming) transcription engine, both
// variants simulate streaming by buffering incoming PCM audio, applying an
// energy-based silence detector to segment utterances, and transcribing each
// completed utterance as one batch request. A Transcript is emitted per
// committed utterance.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	handle, err := p.StartStream(ctx, cfg)
//	handle.SendAudio(pcmChunk)
//	transcript := <-handle.Transcripts()
//	handle.Close()
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/attune/pkg/provider/stt"
)

const (
	// bitsPerSample is fixed at 16 for the little-endian signed PCM audio
	// whisper.cpp expects.
	bitsPerSample = 16

	// defaultRMSThreshold is the root-mean-square energy level (in 16-bit
	// PCM units) below which audio is considered silent. 300 corresponds to
	// near-silence on the 0–32767 scale.
	defaultRMSThreshold = 300.0

	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10_000
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a [Provider].
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with — this is the default.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code sent to the whisper.cpp server.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the default audio sample rate in Hz, used when a
// StreamConfig does not specify one. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithSilenceThresholdMs sets the consecutive-silence duration (ms) that
// triggers a flush of the accumulated speech buffer. Shorter values produce
// more responsive transcription at the cost of potentially splitting
// utterances. Defaults to 500 ms.
func WithSilenceThresholdMs(ms int) Option {
	return func(p *Provider) { p.silenceThresholdMs = ms }
}

// WithMaxBufferDurationMs sets the maximum duration of audio (ms) that may
// accumulate before a flush is forced regardless of silence. Prevents
// unbounded memory growth during continuous speech. Defaults to 10 000 ms.
func WithMaxBufferDurationMs(ms int) Option {
	return func(p *Provider) { p.maxBufferDurationMs = ms }
}

// Provider implements stt.Provider backed by a whisper.cpp HTTP server.
// Multiple sessions may be open simultaneously; each session maintains its
// own audio buffer and goroutine.
type Provider struct {
	serverURL           string
	model               string
	language            string
	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
	httpClient          *http.Client
}

// New creates a Provider that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:           serverURL,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a new transcription session. The returned SessionHandle
// is ready to accept audio immediately; no network connection is established
// until the first flush.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	s := newSegmentingSession(cfg, p.sampleRate, p.language, p.silenceThresholdMs, p.maxBufferDurationMs,
		func(flushCtx context.Context, pcm []byte, sampleRate, channels int) (string, error) {
			return p.infer(flushCtx, pcm, sampleRate, channels)
		})

	s.wg.Add(1)
	go s.processLoop(ctx)

	return s, nil
}

// infer encodes pcm as a WAV file and POSTs it to the whisper.cpp /inference
// endpoint as multipart/form-data. It returns the transcribed text.
func (p *Provider) infer(ctx context.Context, pcm []byte, sampleRate, channels int) (string, error) {
	wav := encodeWAV(pcm, sampleRate, channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if p.language != "" {
		if err := mw.WriteField("language", p.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return "", fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// inferFunc performs one batch transcription of a completed utterance.
type inferFunc func(ctx context.Context, pcm []byte, sampleRate, channels int) (string, error)

// segmentingSession is the shared silence-detection session used by both the
// HTTP and native providers; only the inference step differs. It implements
// stt.SessionHandle. All mutable buffer state is confined to the processLoop
// goroutine to avoid data races.
type segmentingSession struct {
	language            string
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int
	infer               inferFunc

	audioCh     chan []byte
	transcripts chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newSegmentingSession(cfg stt.StreamConfig, defaultRate int, language string, silenceMs, maxBufferMs int, infer inferFunc) *segmentingSession {
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}
	lang := cfg.Language
	if lang == "" {
		lang = language
	}
	return &segmentingSession{
		language:            lang,
		sampleRate:          sr,
		channels:            ch,
		silenceThresholdMs:  silenceMs,
		maxBufferDurationMs: maxBufferMs,
		infer:               infer,

		audioCh:     make(chan []byte, 256),
		transcripts: make(chan stt.Transcript, 64),
		done:        make(chan struct{}),
	}
}

// SendAudio queues a chunk of raw 16-bit little-endian signed PCM audio for
// silence analysis and buffering. Calling SendAudio after Close returns an
// error.
func (s *segmentingSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

// Transcripts returns the channel of committed utterance transcripts. The
// channel is closed when the session ends.
func (s *segmentingSession) Transcripts() <-chan stt.Transcript { return s.transcripts }

// Close terminates the session, flushes any pending speech audio for a final
// transcription, and closes the Transcripts channel. Calling Close more than
// once is safe and returns nil.
func (s *segmentingSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop is the single goroutine responsible for silence detection,
// audio buffering, and inference dispatch.
func (s *segmentingSession) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.transcripts)

	var (
		buffer    []byte // accumulated PCM for the current utterance
		hadSpeech bool   // true once any high-energy chunk has been buffered
		silenceMs int    // consecutive silence accumulated after speech (ms)
	)

	bytesPerMs := s.sampleRate * s.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32 // safe fallback (16 kHz mono 16-bit → 32 B/ms)
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	doFlush := func(flushCtx context.Context) {
		if len(buffer) == 0 || !hadSpeech {
			buffer = nil
			hadSpeech = false
			silenceMs = 0
			return
		}

		pcm := buffer
		buffer = nil
		hadSpeech = false
		silenceMs = 0

		text, err := s.infer(flushCtx, pcm, s.sampleRate, s.channels)
		if err != nil || text == "" {
			return
		}

		dur := time.Duration(len(pcm)/bytesPerMs) * time.Millisecond
		// Non-blocking send: the channel is buffered; if it is somehow full
		// we drop rather than deadlock during shutdown.
		select {
		case s.transcripts <- stt.Transcript{Text: text, Duration: dur}:
		default:
		}
	}

	// flushWithTimeout performs a final flush using a fresh background
	// context, independent of the caller-supplied ctx which may already be
	// cancelled.
	flushWithTimeout := func() {
		fc, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		doFlush(fc)
	}

	for {
		select {
		case <-ctx.Done():
			flushWithTimeout()
			return

		case <-s.done:
			flushWithTimeout()
			return

		case chunk, ok := <-s.audioCh:
			if !ok {
				flushWithTimeout()
				return
			}

			rms := computeRMS(chunk)
			chunkMs := chunkDurationMs(chunk, s.sampleRate, s.channels)

			if rms < defaultRMSThreshold {
				// Silent chunk: only relevant once speech has started.
				// Leading silence before any speech is discarded.
				if hadSpeech {
					silenceMs += chunkMs
					buffer = append(buffer, chunk...)
					if silenceMs >= s.silenceThresholdMs {
						doFlush(ctx)
					}
				}
			} else {
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, chunk...)
				if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
					doFlush(ctx)
				}
			}
		}
	}
}

// Compile-time assertion that segmentingSession satisfies stt.SessionHandle.
var _ stt.SessionHandle = (*segmentingSession)(nil)
