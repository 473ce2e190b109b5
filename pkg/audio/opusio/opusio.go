// Package opusio decodes and encodes Opus packets at the ingest boundary.
//
// WebSocket clients may deliver Opus-compressed frames instead of raw PCM to
// save bandwidth; they are decoded to PCM16LE mono before classification, and
// transformed audio can be re-encoded on the way back. The classification
// core itself only ever sees PCM.
package opusio

import (
	"fmt"

	"layeh.com/gopus"
)

// maxFrameSamples is the largest Opus frame the decoder will produce: 120 ms
// at 48 kHz, the maximum the codec allows.
const maxFrameSamples = 5760

// Decoder wraps a gopus Opus decoder for a single inbound stream. Each stream
// needs its own decoder to maintain codec state across consecutive packets.
// Not safe for concurrent use.
type Decoder struct {
	dec        *gopus.Decoder
	sampleRate int
	channels   int
}

// NewDecoder creates a mono Opus decoder for the given sample rate. Opus
// supports 8, 12, 16, 24, and 48 kHz.
func NewDecoder(sampleRate int) (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opusio: create decoder: %w", err)
	}
	return &Decoder{dec: dec, sampleRate: sampleRate, channels: 1}, nil
}

// Decode decodes one Opus packet into little-endian int16 PCM bytes.
func (d *Decoder) Decode(packet []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(packet, maxFrameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("opusio: decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// Encoder wraps a gopus Opus encoder for a single outbound stream.
// Not safe for concurrent use.
type Encoder struct {
	enc *gopus.Encoder
}

// NewEncoder creates a mono Opus encoder for the given sample rate.
func NewEncoder(sampleRate int) (*Encoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opusio: create encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// Encode encodes little-endian int16 PCM bytes into one Opus packet. The
// sample count must be a frame size Opus accepts for the configured rate
// (2.5–120 ms).
func (e *Encoder) Encode(pcmBytes []byte) ([]byte, error) {
	pcm := bytesToInt16s(pcmBytes)
	packet, err := e.enc.Encode(pcm, len(pcm), len(pcmBytes))
	if err != nil {
		return nil, fmt.Errorf("opusio: encode: %w", err)
	}
	return packet, nil
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// bytesToInt16s converts little-endian bytes to int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
