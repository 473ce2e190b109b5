package feature

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// minFFTSamples is the smallest frame for which an FFT-based frequency
// estimate is meaningful. Shorter frames fall back to the zero-crossing
// estimator.
const minFFTSamples = 64

// DominantFrequency estimates the dominant frequency of a PCM16LE mono frame
// in Hz, expressed against the supplied sample rate. Returns 0 for silent,
// empty, or unusable input.
//
// Frames of at least minFFTSamples are analysed with a real FFT and the
// highest-magnitude bin (excluding DC) wins. Shorter frames use the
// zero-crossing approximation: rate * crossings / (2 * samples).
func DominantFrequency(pcm []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	samples := DecodePCM16(pcm)
	return dominantFrequency(samples, sampleRate)
}

func dominantFrequency(samples []float64, sampleRate int) float64 {
	if len(samples) == 0 {
		return 0
	}
	if len(samples) < minFFTSamples {
		return zeroCrossingFrequency(samples, sampleRate)
	}

	fft := fourier.NewFFT(len(samples))
	coeffs := fft.Coefficients(nil, samples)

	bestBin := 0
	bestMag := 0.0
	// Skip the DC component at bin 0.
	for i := 1; i < len(coeffs); i++ {
		re := real(coeffs[i])
		im := imag(coeffs[i])
		mag := re*re + im*im
		if mag > bestMag {
			bestMag = mag
			bestBin = i
		}
	}
	if bestBin == 0 || bestMag == 0 {
		return 0
	}
	return fft.Freq(bestBin) * float64(sampleRate)
}

// zeroCrossingFrequency approximates pitch from the sign-change count: a pure
// tone crosses zero twice per cycle.
func zeroCrossingFrequency(samples []float64, sampleRate int) float64 {
	if len(samples) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	if crossings == 0 {
		return 0
	}
	return float64(sampleRate) * float64(crossings) / (2 * float64(len(samples)))
}

// DurationMs returns the duration of a PCM16LE frame in milliseconds at the
// given sample rate. Returns 0 when the rate is not positive.
func DurationMs(pcm []byte, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(len(pcm)/2) / float64(sampleRate) * 1000
}
