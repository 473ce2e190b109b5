// Package mock provides a mock implementation of the stt.Provider interface
// for testing.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/attune/pkg/provider/stt"
)

// Compile-time assertions.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)

// StartStreamCall records the arguments of a single StartStream invocation.
type StartStreamCall struct {
	Config stt.StreamConfig
}

// Provider is a mock stt.Provider that records calls and returns configured
// results. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// StartStreamCalls records every StartStream invocation in order.
	StartStreamCalls []StartStreamCall

	// StartStreamErr, if set, is returned by StartStream.
	StartStreamErr error

	// Sessions holds every session handed out, in creation order.
	Sessions []*Session
}

// StartStream implements stt.Provider.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Config: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := NewSession()
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// Reset clears all recorded calls and sessions.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.Sessions = nil
}

// Session is a mock stt.SessionHandle. Audio sent to it is recorded, and
// tests push transcripts with [Session.EmitTranscript].
type Session struct {
	mu sync.Mutex

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// SendAudioErr, if set, is returned by SendAudio.
	SendAudioErr error

	// CloseErr, if set, is returned by Close.
	CloseErr error

	// CloseCallCount is the number of times Close has been called.
	CloseCallCount int

	transcripts chan stt.Transcript
	closed      bool
}

// NewSession creates a ready-to-use mock session.
func NewSession() *Session {
	return &Session{transcripts: make(chan stt.Transcript, 16)}
}

// SendAudio implements stt.SessionHandle.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

// Transcripts implements stt.SessionHandle.
func (s *Session) Transcripts() <-chan stt.Transcript {
	return s.transcripts
}

// EmitTranscript pushes a transcript to the session's channel. No-op after
// Close.
func (s *Session) EmitTranscript(t stt.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.transcripts <- t
}

// Close implements stt.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.transcripts)
	}
	return s.CloseErr
}
