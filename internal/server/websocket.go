package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/attune/internal/classify"
	"github.com/MrWong99/attune/internal/session"
	"github.com/MrWong99/attune/pkg/audio/opusio"
	"github.com/MrWong99/attune/pkg/types"
)

// maxMessageBytes bounds a single WebSocket message. Generous for PCM frames
// and tiny for Opus packets.
const maxMessageBytes = 1 << 20

// controlMessage is a client-to-server text frame. Type selects the action:
//
//   - "label": promote an unknown cluster to a named label.
//   - "records": replace the label/person snapshot used for matching.
type controlMessage struct {
	Type string `json:"type"`

	// label fields
	Text        string  `json:"text,omitempty"`
	ClusterID   string  `json:"cluster_id,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	Volume      float64 `json:"volume,omitempty"`
	Muted       bool    `json:"muted,omitempty"`
	InvertPhase bool    `json:"invert_phase,omitempty"`

	// records fields
	Labels  []types.Label  `json:"labels,omitempty"`
	Persons []types.Person `json:"persons,omitempty"`
}

// classificationMessage is the server-to-client text frame sent for every
// processed audio frame, immediately followed by a binary frame carrying the
// transformed audio.
type classificationMessage struct {
	Type        string  `json:"type"`
	Outcome     string  `json:"outcome"`
	Label       string  `json:"label,omitempty"`
	PersonID    string  `json:"person_id,omitempty"`
	Confidence  float64 `json:"confidence"`
	ClusterID   string  `json:"cluster_id,omitempty"`
	FrequencyHz float64 `json:"frequency_hz,omitempty"`
	DurationMs  float64 `json:"duration_ms,omitempty"`
}

// handleDetect upgrades the connection and streams frames through a dedicated
// detection session. Binary messages carry audio (PCM16LE, or Opus packets
// when the client connects with ?codec=opus); text messages carry control
// JSON. Results are written back as a JSON message plus a binary audio frame.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	var (
		decoder *opusio.Decoder
		encoder *opusio.Encoder
	)
	if r.URL.Query().Get("codec") == "opus" {
		decoder, err = opusio.NewDecoder(s.cfg.SampleRate)
		if err != nil {
			s.log.Error("opus decoder init failed", "error", err)
			conn.Close(websocket.StatusInternalError, "opus unsupported")
			return
		}
		encoder, err = opusio.NewEncoder(s.cfg.SampleRate)
		if err != nil {
			s.log.Error("opus encoder init failed", "error", err)
			conn.Close(websocket.StatusInternalError, "opus unsupported")
			return
		}
	}

	sess, err := s.cfg.NewSession()
	if err != nil {
		s.log.Error("session create failed", "error", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	if err := sess.Start(r.Context()); err != nil {
		s.log.Error("session start failed", "error", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}

	connCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Writer: forward classified frames until the session's result channel
	// closes (on Stop) or the connection dies.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for res := range sess.Results() {
			if err := writeResult(connCtx, conn, res, encoder); err != nil {
				cancel()
				return
			}
		}
	}()

	s.log.Info("detection stream opened", "remote", r.RemoteAddr, "opus", decoder != nil)
	s.readLoop(connCtx, conn, sess, decoder)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := sess.Stop(stopCtx); err != nil {
		s.log.Warn("session stop error", "error", err)
	}
	<-writeDone

	conn.Close(websocket.StatusNormalClosure, "session ended")
	s.log.Info("detection stream closed", "remote", r.RemoteAddr)
}

// readLoop consumes client messages until the connection closes or ctx ends.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, decoder *opusio.Decoder) {
	start := time.Now()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		switch typ {
		case websocket.MessageBinary:
			pcm := data
			if decoder != nil {
				pcm, err = decoder.Decode(data)
				if err != nil {
					s.log.Warn("opus decode failed, frame dropped", "error", err)
					continue
				}
			}
			frame := types.AudioFrame{
				Data:       pcm,
				SampleRate: s.cfg.SampleRate,
				Channels:   s.cfg.Channels,
				Timestamp:  time.Since(start),
			}
			if err := sess.Process(frame); err != nil {
				return
			}

		case websocket.MessageText:
			if err := s.handleControl(data, sess); err != nil {
				s.log.Warn("control message rejected", "error", err)
			}
		}
	}
}

// handleControl dispatches one client control message.
func (s *Server) handleControl(data []byte, sess *session.Session) error {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("server: parse control message: %w", err)
	}

	switch msg.Type {
	case "label":
		return sess.Label(session.LabelRequest{
			Text:        msg.Text,
			ClusterID:   msg.ClusterID,
			Threshold:   msg.Threshold,
			Volume:      msg.Volume,
			Muted:       msg.Muted,
			InvertPhase: msg.InvertPhase,
		})
	case "records":
		return sess.SetRecords(classify.Snapshot{Labels: msg.Labels, Persons: msg.Persons})
	default:
		return fmt.Errorf("server: unknown control message type %q", msg.Type)
	}
}

// writeResult sends the JSON classification followed by the transformed
// audio. Connections that negotiated Opus ingest get their playback audio
// re-encoded with enc; everyone else receives raw PCM16LE.
func writeResult(ctx context.Context, conn *websocket.Conn, res session.FrameResult, enc *opusio.Encoder) error {
	msg := classificationMessage{
		Type:        "classification",
		Outcome:     res.Result.Outcome.String(),
		Label:       res.Result.LabelName,
		PersonID:    res.Result.PersonID,
		Confidence:  res.Result.Confidence,
		ClusterID:   res.Result.ClusterID,
		FrequencyHz: res.Result.FrequencyHz,
		DurationMs:  res.Result.DurationMs,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return err
	}
	audio := res.Audio
	if enc != nil {
		audio, err = enc.Encode(res.Audio)
		if err != nil {
			return fmt.Errorf("server: encode playback frame: %w", err)
		}
	}
	return conn.Write(ctx, websocket.MessageBinary, audio)
}
