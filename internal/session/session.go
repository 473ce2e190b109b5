// Package session runs the per-connection detection loop: audio frames and
// labeling requests are serialised onto a single goroutine so that every
// frame's mutations (detection counters, cluster state, transcription) apply
// atomically and stopping never interrupts a frame mid-flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/attune/internal/classify"
	"github.com/MrWong99/attune/internal/labeling"
	"github.com/MrWong99/attune/internal/observe"
	"github.com/MrWong99/attune/pkg/audio"
	"github.com/MrWong99/attune/pkg/history"
	"github.com/MrWong99/attune/pkg/provider/stt"
	"github.com/MrWong99/attune/pkg/types"
)

const (
	// defaultQueueSize bounds the frame/request queue.
	defaultQueueSize = 64

	// defaultSampleRate is assumed for STT streams when the config omits it.
	defaultSampleRate = 44100
)

// ErrStopped is returned by [Session.Process] and [Session.Label] after the
// session has been stopped.
var ErrStopped = errors.New("session: stopped")

// LabelRequest asks the session to turn an unknown cluster into a named label.
// Text is free-form user input; it is resolved against existing label names so
// "Door Slam" extends an existing "door_slam" instead of minting a duplicate.
type LabelRequest struct {
	// Text is the requested label name. Required.
	Text string

	// ClusterID selects the cluster to promote. Empty means the most recently
	// active unknown cluster.
	ClusterID string

	// Threshold, Volume, Muted and InvertPhase seed the label record when the
	// request creates a new label. Zero Threshold and Volume fall back to the
	// defaults (0.7 and unity gain).
	Threshold   float64
	Volume      float64
	Muted       bool
	InvertPhase bool
}

// FrameResult pairs a frame's classification with its transformed audio,
// ready for playback.
type FrameResult struct {
	Result classify.Result

	// Audio is the transformed PCM16LE data.
	Audio []byte
}

// Config holds the session's collaborators. Classifier is required; everything
// else degrades gracefully when absent.
type Config struct {
	Classifier  *classify.Classifier
	Transformer *audio.Transformer

	// Resolver matches labeling-request text against existing label names.
	Resolver *labeling.Resolver

	// History receives detection events. Writes never block the frame loop;
	// events are dropped (and logged once) when the writer falls behind.
	History history.Store

	// STT transcribes frames attributed to a known person. Optional.
	STT stt.Provider

	// SampleRate and Channels describe the incoming frames for the STT stream.
	SampleRate int
	Channels   int

	Metrics *observe.Metrics
	Logger  *slog.Logger

	// QueueSize bounds the request queue. Default 64.
	QueueSize int
}

// request is the sum type flowing through the serialised loop. Exactly one
// field is set.
type request struct {
	frame *types.AudioFrame
	label *LabelRequest
	snap  *classify.Snapshot
}

// Session is a single detection session. Create with [New], then [Start].
// All exported methods are safe for concurrent use.
type Session struct {
	cfg Config
	log *slog.Logger

	requests chan request
	results  chan FrameResult
	events   chan types.DetectionEvent

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu         sync.Mutex
	started    bool
	snap       classify.Snapshot
	speaker    string
	transcript strings.Builder

	sttSession stt.SessionHandle

	// lastClusters tracks the cluster count for the gauge delta.
	lastClusters int

	resultDropWarn  sync.Once
	historyDropWarn sync.Once
}

// New creates a session. Returns an error when the classifier is missing.
func New(cfg Config) (*Session, error) {
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("session: classifier is required")
	}
	if cfg.Transformer == nil {
		cfg.Transformer = audio.NewTransformer(audio.InvertSimple)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	return &Session{
		cfg:      cfg,
		log:      cfg.Logger,
		requests: make(chan request, cfg.QueueSize),
		results:  make(chan FrameResult, cfg.QueueSize),
		events:   make(chan types.DetectionEvent, cfg.QueueSize),
	}, nil
}

// Start launches the frame loop and its helper goroutines. Returns an error
// when already started or when the STT stream cannot be opened.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("session: already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, runCtx := errgroup.WithContext(runCtx)
	s.ctx, s.cancel, s.group = runCtx, cancel, group

	if s.cfg.STT != nil {
		// Frames are converted to 16 kHz mono before they reach the stream.
		handle, err := s.cfg.STT.StartStream(ctx, stt.StreamConfig{
			SampleRate: 16000,
			Channels:   1,
		})
		if err != nil {
			cancel()
			return fmt.Errorf("session: start stt stream: %w", err)
		}
		s.sttSession = handle
		group.Go(func() error {
			s.readTranscripts(handle)
			return nil
		})
	}

	group.Go(func() error {
		s.run(runCtx)
		return nil
	})
	if s.cfg.History != nil {
		group.Go(func() error {
			s.writeHistory(runCtx)
			return nil
		})
	}

	s.started = true
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}
	s.log.Info("detection session started",
		"sample_rate", s.cfg.SampleRate, "channels", s.cfg.Channels,
		"stt", s.cfg.STT != nil, "history", s.cfg.History != nil)
	return nil
}

// Stop ends the session between frames: the queue stops accepting work, the
// current frame (if any) finishes, and helper goroutines drain. Idempotent.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel, group, handle := s.cancel, s.group, s.sttSession
	s.sttSession = nil
	s.mu.Unlock()

	cancel()
	if handle != nil {
		if err := handle.Close(); err != nil {
			s.log.Warn("stt session close error", "error", err)
		}
	}
	_ = group.Wait()
	close(s.results)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveSessions.Add(ctx, -1)
	}
	s.log.Info("detection session stopped")
	return nil
}

// Process enqueues one audio frame for classification. Blocks when the queue
// is full, applying backpressure to the ingest path.
func (s *Session) Process(frame types.AudioFrame) error {
	return s.enqueue(request{frame: &frame})
}

// Label enqueues a labeling request. It is serialised with frame processing,
// so the promotion happens between frames, never during one.
func (s *Session) Label(req LabelRequest) error {
	return s.enqueue(request{label: &req})
}

// SetRecords replaces the label and person snapshot used for subsequent
// frames. The swap is serialised with frame processing.
func (s *Session) SetRecords(snap classify.Snapshot) error {
	return s.enqueue(request{snap: &snap})
}

func (s *Session) enqueue(req request) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrStopped
	}
	ctx := s.ctx
	s.mu.Unlock()

	select {
	case s.requests <- req:
		return nil
	case <-ctx.Done():
		return ErrStopped
	}
}

// Results returns the channel of classified, transformed frames. Closed by
// [Session.Stop]. Slow consumers lose frames rather than stalling the loop.
func (s *Session) Results() <-chan FrameResult {
	return s.results
}

// Transcription returns the accumulated speech-to-text output, one
// "Name: text" line per transcript.
func (s *Session) Transcription() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.String()
}

// Stats exposes the classifier's counters.
func (s *Session) Stats() classify.Stats {
	return s.cfg.Classifier.Stats()
}

// run is the single-writer loop. Every frame and labeling request is handled
// here, one at a time.
func (s *Session) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			switch {
			case req.frame != nil:
				s.handleFrame(ctx, *req.frame)
			case req.label != nil:
				s.handleLabel(ctx, *req.label)
			case req.snap != nil:
				s.mu.Lock()
				s.snap = *req.snap
				s.mu.Unlock()
			}
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame types.AudioFrame) {
	s.mu.Lock()
	snap := s.snap
	s.mu.Unlock()

	start := time.Now()
	res := s.cfg.Classifier.Classify(ctx, frame, snap)
	classifyDone := time.Now()

	out := s.cfg.Transformer.Transform(frame.Data, res.Settings)
	transformDone := time.Now()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ClassifyDuration.Record(ctx, classifyDone.Sub(start).Seconds())
		s.cfg.Metrics.TransformDuration.Record(ctx, transformDone.Sub(classifyDone).Seconds())
		s.cfg.Metrics.RecordFrame(ctx, res.Outcome.String())
		s.updateClusterGauge(ctx)
	}

	if res.Outcome == types.OutcomePersonMatch {
		s.feedSTT(res.PersonID, snap, frame)
	}

	s.recordEvent(res, frame)

	select {
	case s.results <- FrameResult{Result: res, Audio: out}:
	default:
		s.resultDropWarn.Do(func() {
			s.log.Warn("result consumer too slow, dropping frames")
		})
	}
}

// feedSTT forwards a person-attributed frame to the speech-to-text stream and
// remembers the speaker for transcript attribution.
func (s *Session) feedSTT(personID string, snap classify.Snapshot, frame types.AudioFrame) {
	s.mu.Lock()
	handle := s.sttSession
	if handle != nil {
		s.speaker = personID
		for _, p := range snap.Persons {
			if p.ID == personID && p.Name != "" {
				s.speaker = p.Name
				break
			}
		}
	}
	s.mu.Unlock()

	if handle == nil {
		return
	}
	pcm := audio.ForSTT(frame.Data, frame.SampleRate, frame.Channels)
	if err := handle.SendAudio(pcm); err != nil {
		s.log.Warn("stt send error", "error", err)
	}
}

func (s *Session) handleLabel(ctx context.Context, req LabelRequest) {
	s.mu.Lock()
	snap := s.snap
	s.mu.Unlock()

	name := labeling.Canonical(req.Text)
	if s.cfg.Resolver != nil {
		existing := make([]string, len(snap.Labels))
		for i, l := range snap.Labels {
			existing[i] = l.Name
		}
		if resolved, conf, ok := s.cfg.Resolver.Resolve(req.Text, existing); ok {
			s.log.Info("labeling request resolved to existing label",
				"input", req.Text, "label", resolved, "confidence", conf)
			name = resolved
		}
	}
	if name == "" {
		s.log.Warn("labeling request with empty label text ignored")
		return
	}

	clusterID, migrated, err := s.cfg.Classifier.PromoteCluster(classify.LabelingRequest{
		LabelName: name,
		ClusterID: req.ClusterID,
	})
	if err != nil {
		s.log.Warn("cluster promotion failed", "label", name, "error", err)
		return
	}

	s.ensureLabelRecord(name, req)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordPromotion(ctx, name)
		s.updateClusterGauge(ctx)
	}
	if migrated > 0 {
		s.relabelHistory(clusterID, name)
	}
}

// ensureLabelRecord adds the promoted label to the working snapshot so the
// very next frame can match it.
func (s *Session) ensureLabelRecord(name string, req LabelRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.snap.Labels {
		if l.Name == name {
			return
		}
	}
	volume := req.Volume
	if volume == 0 && !req.Muted {
		volume = 1
	}
	s.snap.Labels = append(s.snap.Labels, types.Label{
		Name:        name,
		Threshold:   req.Threshold,
		Volume:      volume,
		Muted:       req.Muted,
		InvertPhase: req.InvertPhase,
		Active:      true,
	})
}

// relabelHistory retags past unknown detections with the promoted label.
// Best-effort and off the frame loop's critical path.
func (s *Session) relabelHistory(clusterID, name string) {
	if s.cfg.History == nil || clusterID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n, err := s.cfg.History.Relabel(ctx, clusterID, name)
		if err != nil {
			s.log.Warn("history relabel failed", "cluster_id", clusterID, "label", name, "error", err)
			return
		}
		s.log.Info("relabeled past detections", "cluster_id", clusterID, "label", name, "events", n)
	}()
}

// recordEvent hands the detection to the history writer without blocking.
func (s *Session) recordEvent(res classify.Result, frame types.AudioFrame) {
	if s.cfg.History == nil {
		return
	}
	ev := types.DetectionEvent{
		Timestamp:   time.Now().UTC(),
		LabelName:   res.LabelName,
		PersonID:    res.PersonID,
		Confidence:  res.Confidence,
		ClusterID:   res.ClusterID,
		FrequencyHz: res.FrequencyHz,
		DurationMs:  res.DurationMs,
		Features:    res.Features,
		Audio:       frame.Data,
	}
	select {
	case s.events <- ev:
	default:
		s.historyDropWarn.Do(func() {
			s.log.Warn("history writer too slow, dropping detection events")
		})
	}
}

// writeHistory drains the event queue into the store.
func (s *Session) writeHistory(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			if _, err := s.cfg.History.Record(ctx, ev); err != nil && ctx.Err() == nil {
				s.log.Warn("history record failed", "error", err)
			}
		}
	}
}

// readTranscripts accumulates speaker-tagged transcript lines until the STT
// session closes its channel.
func (s *Session) readTranscripts(handle stt.SessionHandle) {
	for t := range handle.Transcripts() {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		s.mu.Lock()
		speaker := s.speaker
		if speaker == "" {
			speaker = "unknown"
		}
		fmt.Fprintf(&s.transcript, "%s: %s\n", speaker, text)
		s.mu.Unlock()
	}
}

// updateClusterGauge reconciles the active-clusters gauge with the manager's
// current count. Called from the loop goroutine only.
func (s *Session) updateClusterGauge(ctx context.Context) {
	n := len(s.cfg.Classifier.Clusters())
	if delta := n - s.lastClusters; delta != 0 {
		s.cfg.Metrics.ActiveClusters.Add(ctx, int64(delta))
		s.lastClusters = n
	}
}
