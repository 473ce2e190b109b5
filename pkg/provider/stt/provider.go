// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Transcription is strictly additive in the classification pipeline: frames
// that match a known person may additionally carry transcription text, but
// the per-frame classify-transform path never waits on a transcription
// result. When no STT backend is configured (or the configured one is down),
// the core proceeds with a degraded no-transcription result.
//
// The central abstraction is SessionHandle: once opened, a session accepts
// raw PCM audio frames and emits Transcript values asynchronously as
// utterances complete.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format for a new STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000
	// (STT-optimised mono), 44100 (native capture rate).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT backends). Implementors may downmix multi-channel input internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without a live backend.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines inside the provider implementation. All methods must
// be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes for transcription.
	// The chunk must match the SampleRate, Channels, and 16-bit depth agreed
	// in StreamConfig. SendAudio must not block on inference; providers
	// buffer internally. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Transcripts returns a read-only channel that emits Transcript values as
	// the provider commits recognition results. The channel is closed when
	// the session ends.
	Transcripts() <-chan Transcript

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Transcripts channel
	// is closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple sessions may be
// open simultaneously (e.g., one per tracked person).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format. The returned SessionHandle is ready to accept audio
	// immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
