// Package classify orchestrates per-frame classification: feature extraction,
// voice-vs-label precedence, threshold decisions, and cluster assignment.
//
// A [Classifier] exclusively owns the pattern store and cluster manager for
// the lifetime of one detection session. Label and person records are owned by
// the external persistence collaborator and passed in as read snapshots per
// frame. Frame processing and labeling requests serialise on one mutex, so a
// frame's mutations are atomic as a unit and stopping between frames never
// leaves partial state.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/attune/internal/cluster"
	"github.com/MrWong99/attune/internal/feature"
	"github.com/MrWong99/attune/internal/pattern"
	"github.com/MrWong99/attune/pkg/audio"
	"github.com/MrWong99/attune/pkg/provider/acoustic"
	"github.com/MrWong99/attune/pkg/types"
)

const (
	// DefaultVoiceThreshold is the confidence floor for person-voice matches.
	// Stricter than labels because misrouting a voice is costlier than missing
	// an unknown sound.
	DefaultVoiceThreshold = 0.6

	// DefaultLabelThreshold applies to labels whose snapshot carries no
	// threshold of their own.
	DefaultLabelThreshold = 0.7

	// DefaultLabelFloor is the global low-confidence cutoff below which a
	// frame is always treated as unknown, regardless of per-label thresholds.
	DefaultLabelFloor = 0.3
)

// ErrNoClusters is returned by [Classifier.PromoteCluster] when a labeling
// request omits the cluster ID and no unknown cluster exists to resolve it to.
var ErrNoClusters = errors.New("classify: no unknown clusters to label")

// Snapshot carries the label and person records for one frame. Records are
// read-only from the classifier's perspective; detection counters are tracked
// internally and exposed via [Classifier.Stats].
type Snapshot struct {
	Labels  []types.Label
	Persons []types.Person
}

// Result is the full outcome of classifying one frame, including the audio
// transform settings the playback path should apply.
type Result struct {
	types.ClassificationResult

	// Features is the vector extracted from the frame, for callers that
	// persist detection history.
	Features types.FeatureVector

	// Settings are the transform settings derived from the matched record.
	// Pass-through (unity, unmuted) for unknown frames.
	Settings audio.TransformSettings
}

// Stats is a read snapshot of the classifier's internal counters.
type Stats struct {
	// Frames is the total number of frames classified.
	Frames int

	// Unknown is the number of frames routed to the cluster manager.
	Unknown int

	// LabelDetections and PersonDetections count matches per label name and
	// person ID.
	LabelDetections  map[string]int
	PersonDetections map[string]int
}

// Classifier decides, per frame, between the mutually exclusive outcomes
// person match, label match, and no match, in that precedence order.
type Classifier struct {
	mu sync.Mutex

	patterns *pattern.Store
	voices   *pattern.Store
	clusters *cluster.Manager
	backend  acoustic.Backend
	log      *slog.Logger

	voiceThreshold float64
	labelFloor     float64

	frames           int
	unknown          int
	labelDetections  map[string]int
	personDetections map[string]int

	backendWarn sync.Once
}

// Option is a functional option for [New].
type Option func(*Classifier)

// WithAcousticBackend attaches an external audio-event classifier. The
// classifier checks the backend's capability before every use and falls back
// to its own lightweight estimators when it is unavailable or failing.
func WithAcousticBackend(b acoustic.Backend) Option {
	return func(c *Classifier) { c.backend = b }
}

// WithVoiceThreshold overrides the person-voice confidence floor.
// Values outside (0,1] are ignored.
func WithVoiceThreshold(t float64) Option {
	return func(c *Classifier) {
		if t > 0 && t <= 1 {
			c.voiceThreshold = t
		}
	}
}

// WithLabelFloor overrides the global low-confidence cutoff for label matches.
// Values outside [0,1] are ignored.
func WithLabelFloor(t float64) Option {
	return func(c *Classifier) {
		if t >= 0 && t <= 1 {
			c.labelFloor = t
		}
	}
}

// WithPatternCapacity caps the rolling pattern collections for labels and
// voices. Values below 1 keep the default.
func WithPatternCapacity(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.patterns = pattern.NewStore(pattern.WithCapacity(n))
			c.voices = pattern.NewStore(pattern.WithCapacity(n))
		}
	}
}

// WithClusterOptions forwards options to the owned cluster manager, e.g. the
// clustering strategy.
func WithClusterOptions(opts ...cluster.Option) Option {
	return func(c *Classifier) { c.clusters = cluster.NewManager(opts...) }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *Classifier) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a classifier with empty pattern and cluster state.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		patterns:         pattern.NewStore(),
		voices:           pattern.NewStore(),
		clusters:         cluster.NewManager(),
		log:              slog.Default(),
		voiceThreshold:   DefaultVoiceThreshold,
		labelFloor:       DefaultLabelFloor,
		labelDetections:  make(map[string]int),
		personDetections: make(map[string]int),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify processes one frame and returns its classification outcome plus
// the transform settings for playback. It never fails: extraction or scoring
// panics degrade to a zero-confidence no-match result so a bad frame cannot
// take down the audio pipeline.
func (c *Classifier) Classify(ctx context.Context, frame types.AudioFrame, snap Snapshot) (res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("classification panicked, degrading to no-match", "panic", r)
			res = Result{
				ClassificationResult: types.ClassificationResult{Outcome: types.OutcomeNoMatch},
				Settings:             audio.TransformSettings{Volume: 1},
			}
		}
	}()

	c.frames++

	features := feature.Extract(frame.Data)
	freq := feature.DominantFrequency(frame.Data, frame.SampleRate)
	dur := feature.DurationMs(frame.Data, frame.SampleRate)

	res = Result{
		ClassificationResult: types.ClassificationResult{
			Outcome:     types.OutcomeNoMatch,
			FrequencyHz: freq,
			DurationMs:  dur,
		},
		Features: features,
		Settings: audio.TransformSettings{Volume: 1},
	}

	// Voice precedence: a frame that resembles a known person is never
	// attributed to a sound label.
	if person, score, ok := c.matchPerson(features, snap.Persons); ok {
		c.personDetections[person.ID]++
		res.Outcome = types.OutcomePersonMatch
		res.PersonID = person.ID
		res.Confidence = score
		res.Settings = audio.TransformSettings{
			Volume: person.Volume,
			Muted:  person.Muted || person.Volume == 0,
		}
		return res
	}

	if label, score, ok := c.matchLabel(ctx, frame, features, snap.Labels); ok {
		c.labelDetections[label.Name]++
		res.Outcome = types.OutcomeLabelMatch
		res.LabelName = label.Name
		res.Confidence = score
		res.Settings = audio.TransformSettings{
			Volume:      label.Volume,
			Muted:       label.Muted,
			InvertPhase: label.InvertPhase,
		}
		return res
	}

	c.unknown++
	res.ClusterID = c.clusters.Assign(cluster.Observation{
		Features:    features,
		FrequencyHz: freq,
		DurationMs:  dur,
	})
	return res
}

// matchPerson scores the frame against every active person's voice patterns.
func (c *Classifier) matchPerson(features types.FeatureVector, persons []types.Person) (types.Person, float64, bool) {
	candidates := make([]pattern.Candidate, 0, len(persons))
	byKey := make(map[string]types.Person, len(persons))
	for _, p := range persons {
		if !p.Active {
			continue
		}
		candidates = append(candidates, pattern.Candidate{Key: p.ID, Threshold: c.voiceThreshold})
		byKey[p.ID] = p
	}
	m := c.voices.Match(features, candidates)
	if m == nil {
		return types.Person{}, 0, false
	}
	return byKey[m.Key], m.Score, true
}

// matchLabel scores the frame against active labels, first by pattern
// similarity, then by asking the acoustic backend when one is available.
func (c *Classifier) matchLabel(ctx context.Context, frame types.AudioFrame, features types.FeatureVector, labels []types.Label) (types.Label, float64, bool) {
	candidates := make([]pattern.Candidate, 0, len(labels))
	byKey := make(map[string]types.Label, len(labels))
	for _, l := range labels {
		if !l.Active {
			continue
		}
		candidates = append(candidates, pattern.Candidate{Key: l.Name, Threshold: c.effectiveThreshold(l)})
		byKey[l.Name] = l
	}

	if m := c.patterns.Match(features, candidates); m != nil {
		return byKey[m.Key], m.Score, true
	}

	if name, conf, ok := c.backendMatch(ctx, frame, byKey); ok {
		return byKey[name], conf, true
	}
	return types.Label{}, 0, false
}

// backendMatch asks the external audio-event classifier for categories and
// accepts the best event whose category names an active label and whose
// confidence clears that label's threshold. Backend failure degrades silently;
// the first failure is logged once rather than per frame.
func (c *Classifier) backendMatch(ctx context.Context, frame types.AudioFrame, labels map[string]types.Label) (string, float64, bool) {
	if c.backend == nil || !c.backend.Available() || len(labels) == 0 {
		return "", 0, false
	}

	events, err := c.backend.Classify(ctx, frame.Data, frame.SampleRate)
	if err != nil {
		c.backendWarn.Do(func() {
			c.log.Warn("acoustic backend failed, falling back to built-in estimators", "error", err)
		})
		return "", 0, false
	}

	var (
		bestName string
		bestConf float64
		found    bool
	)
	for _, ev := range events {
		l, ok := labels[matchKey(ev.Category, labels)]
		if !ok {
			continue
		}
		if ev.Confidence > c.effectiveThreshold(l) && ev.Confidence > bestConf {
			bestName, bestConf, found = l.Name, ev.Confidence, true
		}
	}
	return bestName, bestConf, found
}

// matchKey resolves a backend category to a label name, case-insensitively.
func matchKey(category string, labels map[string]types.Label) string {
	if _, ok := labels[category]; ok {
		return category
	}
	for name := range labels {
		if strings.EqualFold(name, category) {
			return name
		}
	}
	return category
}

// effectiveThreshold clamps a label's configured threshold to the global
// low-confidence floor and substitutes the default for unset values.
func (c *Classifier) effectiveThreshold(l types.Label) float64 {
	t := l.Threshold
	if t <= 0 {
		t = DefaultLabelThreshold
	}
	if t < c.labelFloor {
		t = c.labelFloor
	}
	return t
}

// LearnLabel appends a feature vector to the named label's pattern collection.
func (c *Classifier) LearnLabel(name string, vec types.FeatureVector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns.Learn(name, vec)
}

// LearnLabelAudio extracts features from raw PCM frames and learns them under
// the named label. Frames that produce a zero vector are skipped.
func (c *Classifier) LearnLabelAudio(name string, frames [][]byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	learned := 0
	for _, f := range frames {
		vec := feature.Extract(f)
		if vec.IsZero() {
			continue
		}
		c.patterns.Learn(name, vec)
		learned++
	}
	return learned
}

// LearnVoice appends a feature vector to a person's voice pattern collection.
func (c *Classifier) LearnVoice(personID string, vec types.FeatureVector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voices.Learn(personID, vec)
}

// LabelingRequest resolves an unknown cluster into a named label.
type LabelingRequest struct {
	// LabelName is the label to create or extend. Required.
	LabelName string

	// ClusterID selects the cluster to promote. When empty, the most recently
	// active unknown cluster is used.
	ClusterID string
}

// PromoteCluster migrates a cluster's buffered sample history into the named
// label's pattern collection and removes the cluster. Returns the resolved
// cluster ID and the number of migrated vectors; the ID is resolved even when
// the request leaves it empty, so callers can retag stored detections of that
// cluster. Promoting a cluster that was already promoted (or never existed)
// migrates nothing, keeping the operation idempotent.
func (c *Classifier) PromoteCluster(req LabelingRequest) (clusterID string, migrated int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.LabelName == "" {
		return "", 0, fmt.Errorf("classify: labeling request needs a label name")
	}

	id := req.ClusterID
	if id == "" {
		recent, ok := c.clusters.MostRecent()
		if !ok {
			return "", 0, ErrNoClusters
		}
		id = recent
	}

	samples, ok := c.clusters.Promote(id)
	if !ok {
		return id, 0, nil
	}
	c.patterns.LearnAll(req.LabelName, samples)

	c.log.Info("promoted cluster to label",
		"cluster_id", id, "label", req.LabelName, "migrated_samples", len(samples))
	return id, len(samples), nil
}

// Clusters returns read snapshots of the live unknown clusters.
func (c *Classifier) Clusters() []cluster.Info {
	return c.clusters.Snapshot()
}

// PatternCount returns the number of stored vectors for a label name.
func (c *Classifier) PatternCount(labelName string) int {
	return c.patterns.Count(labelName)
}

// Stats returns a copy of the internal counters.
func (c *Classifier) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Frames:           c.frames,
		Unknown:          c.unknown,
		LabelDetections:  make(map[string]int, len(c.labelDetections)),
		PersonDetections: make(map[string]int, len(c.personDetections)),
	}
	for k, v := range c.labelDetections {
		s.LabelDetections[k] = v
	}
	for k, v := range c.personDetections {
		s.PersonDetections[k] = v
	}
	return s
}
