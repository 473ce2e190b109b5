package feature_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/attune/internal/feature"
	"github.com/MrWong99/attune/pkg/types"
)

// pcmFromSamples encodes float samples in [-1,1] as little-endian int16 PCM.
func pcmFromSamples(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// sineWave generates n samples of a sine tone at freq Hz and the given
// amplitude, sampled at rate Hz.
func sineWave(freq float64, rate, n int, amplitude float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return out
}

func TestExtract_EmptyFrame(t *testing.T) {
	t.Parallel()

	for _, pcm := range [][]byte{nil, {}, {0x01}} {
		v := feature.Extract(pcm)
		if len(v) != types.FeatureDimensions {
			t.Fatalf("Extract(%v) returned %d dimensions, want %d", pcm, len(v), types.FeatureDimensions)
		}
		if !v.IsZero() {
			t.Errorf("Extract(%v) = %v, want zero vector", pcm, v)
		}
	}
}

func TestExtract_SilentFrame(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 2048) // 1024 zero samples
	v := feature.Extract(pcm)

	if v[0] != 0 {
		t.Errorf("RMS = %v, want 0", v[0])
	}
	if v[1] != 0 {
		t.Errorf("ZCR = %v, want 0", v[1])
	}
	if v[6] != 0 {
		t.Errorf("peak = %v, want 0", v[6])
	}
}

func TestExtract_DimensionsAlwaysFinite(t *testing.T) {
	t.Parallel()

	inputs := [][]float64{
		sineWave(440, 44100, 2000, 0.8),
		sineWave(100, 16000, 10, 1.0),
		{1, -1, 1, -1},
		{0.00001},
	}
	for _, samples := range inputs {
		v := feature.ExtractSamples(samples)
		if len(v) != types.FeatureDimensions {
			t.Fatalf("got %d dimensions, want %d", len(v), types.FeatureDimensions)
		}
		for i, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				t.Errorf("dimension %d = %v, want finite", i, x)
			}
		}
	}
}

func TestExtract_KnownValues(t *testing.T) {
	t.Parallel()

	// Full-scale square-ish input: +1, -1 alternating. RMS and peak are 1,
	// ZCR approaches 1 (one crossing per consecutive pair).
	samples := make([]float64, 100)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 1
		} else {
			samples[i] = -1
		}
	}
	v := feature.ExtractSamples(samples)

	if math.Abs(v[0]-1) > 1e-9 {
		t.Errorf("RMS = %v, want 1", v[0])
	}
	if want := 99.0 / 100.0; math.Abs(v[1]-want) > 1e-9 {
		t.Errorf("ZCR = %v, want %v", v[1], want)
	}
	if math.Abs(v[4]-1) > 1e-9 {
		t.Errorf("mean amplitude = %v, want 1", v[4])
	}
	if v[5] > 1e-9 {
		t.Errorf("amplitude stddev = %v, want 0", v[5])
	}
	if math.Abs(v[6]-1) > 1e-9 {
		t.Errorf("peak = %v, want 1", v[6])
	}
}

func TestExtract_SpectralWindowTruncation(t *testing.T) {
	t.Parallel()

	// Two frames identical in the first 1024 samples but different beyond
	// must produce identical centroid and rolloff.
	base := sineWave(440, 44100, 1024, 0.5)
	long := append(append([]float64{}, base...), sineWave(2000, 44100, 4096, 1.0)...)

	vShort := feature.ExtractSamples(base)
	vLong := feature.ExtractSamples(long)

	if vShort[2] != vLong[2] {
		t.Errorf("centroid differs: %v vs %v", vShort[2], vLong[2])
	}
	if vShort[3] != vLong[3] {
		t.Errorf("rolloff differs: %v vs %v", vShort[3], vLong[3])
	}
}

func TestExtract_RolloffRange(t *testing.T) {
	t.Parallel()

	v := feature.ExtractSamples(sineWave(880, 44100, 512, 0.7))
	if v[3] < 0 || v[3] > 1 {
		t.Errorf("rolloff = %v, want within [0,1]", v[3])
	}
}

func TestDecodePCM16_Normalisation(t *testing.T) {
	t.Parallel()

	pcm := pcmFromSamples([]float64{1, -1, 0})
	samples := feature.DecodePCM16(pcm)
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	if math.Abs(samples[0]-1) > 1e-4 {
		t.Errorf("samples[0] = %v, want ~1", samples[0])
	}
	if math.Abs(samples[1]+1) > 1e-4 {
		t.Errorf("samples[1] = %v, want ~-1", samples[1])
	}
	if samples[2] != 0 {
		t.Errorf("samples[2] = %v, want 0", samples[2])
	}
}
