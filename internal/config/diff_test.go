package config

import "testing"

func baseConfig() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080", LogLevel: LogInfo},
		Engine: EngineConfig{
			VoiceThreshold: 0.6,
			LabelFloor:     0.3,
			Clustering:     ClusteringConfig{Strategy: "similarity", SimilarityThreshold: 0.7, SampleCap: 20},
		},
		Labeling: LabelingConfig{PhoneticThreshold: 0.7, FuzzyThreshold: 0.85},
	}
}

func TestDiffEmptyForIdenticalConfigs(t *testing.T) {
	t.Parallel()

	d := Diff(baseConfig(), baseConfig())
	if !d.Empty() {
		t.Errorf("diff of identical configs = %+v, want empty", d)
	}
}

func TestDiffDetectsLogLevelChange(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = LogDebug

	d := Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("diff = %+v, want log level change to debug", d)
	}
	if d.EngineChanged || d.LabelingChanged {
		t.Errorf("diff flagged unrelated sections: %+v", d)
	}
}

func TestDiffDetectsEngineChange(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Engine.Clustering.SimilarityThreshold = 0.8

	d := Diff(old, new)
	if !d.EngineChanged {
		t.Fatalf("diff = %+v, want engine change", d)
	}
	if d.NewEngine.Clustering.SimilarityThreshold != 0.8 {
		t.Errorf("NewEngine threshold = %v, want 0.8", d.NewEngine.Clustering.SimilarityThreshold)
	}
}

func TestDiffDetectsLabelingChange(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Labeling.FuzzyThreshold = 0.9

	d := Diff(old, new)
	if !d.LabelingChanged || d.NewLabeling.FuzzyThreshold != 0.9 {
		t.Errorf("diff = %+v, want labeling change to 0.9", d)
	}
}

func TestDiffIgnoresProviderChanges(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Providers.STT.Name = "openai"
	new.Storage.PostgresDSN = "postgres://other"

	if d := Diff(old, new); !d.Empty() {
		t.Errorf("provider/storage change produced hot-reload diff: %+v", d)
	}
}
