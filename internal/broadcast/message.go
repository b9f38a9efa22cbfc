// Package broadcast carries drawing messages from the producing host to
// viewers: browsers over websocket and replica hosts over a gRPC stream.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cory-johannsen/fortune/internal/wheel"
)

// ErrInvalidMessage is returned for messages that fail Validate.
var ErrInvalidMessage = errors.New("invalid broadcast message")

// Kind discriminates broadcast messages.
type Kind string

const (
	// KindParticipantsChanged replaces the pool visible to viewers.
	KindParticipantsChanged Kind = "participants-changed"
	// KindSpin instructs viewers to animate a spin.
	KindSpin Kind = "spin"
	// KindSettings changes the drawing format.
	KindSettings Kind = "settings"
)

// Mode is the drawing format.
type Mode string

const (
	ModeClassic Mode = "classic"
	ModeDropout Mode = "dropout"
)

// Spin is an animation instruction. WinnerID is the participant that stops
// under the pointer: the overall winner in classic mode, the eliminated
// participant in dropout rounds where Eliminated is set.
//
// EqualSlices tells viewers to draw every participant on an equal slice for
// this spin. It is set when the target's weighted slice is too narrow to stop
// on, e.g. a zero-weight participant eliminated in a dropout round.
type Spin struct {
	RotationDistance float64 `json:"rotationDistance"`
	DurationSeconds  float64 `json:"durationSeconds"`
	WinnerID         string  `json:"winnerId"`
	Round            int     `json:"round,omitempty"`
	Eliminated       bool    `json:"eliminated,omitempty"`
	EqualSlices      bool    `json:"equalSlices,omitempty"`
	TicketID         string  `json:"ticketId,omitempty"`
}

// Settings is the drawing configuration shared with viewers.
type Settings struct {
	Mode                Mode    `json:"mode"`
	SpinDurationSeconds float64 `json:"spinDurationSeconds"`
	BaseRotations       int     `json:"baseRotations"`
}

// DefaultSettings returns classic mode, a 10 second spin and 5 base rotations.
func DefaultSettings() Settings {
	return Settings{Mode: ModeClassic, SpinDurationSeconds: 10, BaseRotations: 5}
}

// Validate checks settings ranges.
func (s Settings) Validate() error {
	if s.Mode != ModeClassic && s.Mode != ModeDropout {
		return fmt.Errorf("mode %q: %w", s.Mode, ErrInvalidMessage)
	}
	if !(s.SpinDurationSeconds > 0) || math.IsInf(s.SpinDurationSeconds, 0) {
		return fmt.Errorf("spin duration %v: %w", s.SpinDurationSeconds, ErrInvalidMessage)
	}
	if s.BaseRotations < 0 {
		return fmt.Errorf("base rotations %d: %w", s.BaseRotations, ErrInvalidMessage)
	}
	return nil
}

// Message is one broadcast unit. Exactly the payload matching Type is set.
// Seq is stamped by the producer and increases by one per message.
type Message struct {
	Seq          uint64              `json:"seq"`
	Type         Kind                `json:"type"`
	Participants []wheel.Participant `json:"participants,omitempty"`
	Spin         *Spin               `json:"spin,omitempty"`
	Settings     *Settings           `json:"settings,omitempty"`
}

// ParticipantsChanged builds a participants-changed message.
func ParticipantsChanged(pool wheel.Pool) Message {
	return Message{Type: KindParticipantsChanged, Participants: pool.Clone()}
}

// SpinMessage builds a spin message.
func SpinMessage(s Spin) Message {
	return Message{Type: KindSpin, Spin: &s}
}

// SettingsMessage builds a settings message.
func SettingsMessage(s Settings) Message {
	return Message{Type: KindSettings, Settings: &s}
}

// Validate checks that the payload matches the kind.
//
// Postcondition: Returns an error wrapping ErrInvalidMessage on any mismatch.
func (m Message) Validate() error {
	switch m.Type {
	case KindParticipantsChanged:
		if m.Spin != nil || m.Settings != nil {
			return fmt.Errorf("participants-changed with extra payload: %w", ErrInvalidMessage)
		}
		seen := make(map[string]struct{}, len(m.Participants))
		for _, p := range m.Participants {
			if p.ID == "" {
				return fmt.Errorf("participant without id: %w", ErrInvalidMessage)
			}
			if _, dup := seen[p.ID]; dup {
				return fmt.Errorf("duplicate participant %q: %w", p.ID, ErrInvalidMessage)
			}
			seen[p.ID] = struct{}{}
			if !(p.Weight >= 0) || math.IsInf(p.Weight, 0) {
				return fmt.Errorf("participant %q weight %v: %w", p.ID, p.Weight, ErrInvalidMessage)
			}
		}
	case KindSpin:
		if m.Spin == nil {
			return fmt.Errorf("spin without payload: %w", ErrInvalidMessage)
		}
		if m.Spin.WinnerID == "" {
			return fmt.Errorf("spin without winner: %w", ErrInvalidMessage)
		}
		if !(m.Spin.RotationDistance >= 0) || math.IsInf(m.Spin.RotationDistance, 0) {
			return fmt.Errorf("spin distance %v: %w", m.Spin.RotationDistance, ErrInvalidMessage)
		}
		if m.Spin.DurationSeconds < 0 {
			return fmt.Errorf("spin duration %v: %w", m.Spin.DurationSeconds, ErrInvalidMessage)
		}
	case KindSettings:
		if m.Settings == nil {
			return fmt.Errorf("settings without payload: %w", ErrInvalidMessage)
		}
		return m.Settings.Validate()
	default:
		return fmt.Errorf("unknown kind %q: %w", m.Type, ErrInvalidMessage)
	}
	return nil
}

// Encode returns the JSON wire form of m.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and validates a JSON message.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %v: %w", err, ErrInvalidMessage)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
