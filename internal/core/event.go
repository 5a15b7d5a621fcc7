package core

import "time"

// EventKind is local feedback the session emits to its owner.
type EventKind int

const (
	// EventLobbyJoined reports that the session entered a lobby.
	EventLobbyJoined EventKind = iota
	// EventFeelingSent confirms a feeling written by the local user.
	EventFeelingSent
	// EventFeelingReceived reports a new feeling from someone else.
	EventFeelingReceived
	// EventUserJoined reports a user appearing in the lobby roster.
	EventUserJoined
	// EventLeft reports that the session left its lobby.
	EventLeft
	// EventHaptic carries only a vibration, nothing to display.
	EventHaptic
)

func (k EventKind) String() string {
	switch k {
	case EventLobbyJoined:
		return "lobby_joined"
	case EventFeelingSent:
		return "feeling_sent"
	case EventFeelingReceived:
		return "feeling_received"
	case EventUserJoined:
		return "user_joined"
	case EventLeft:
		return "left"
	case EventHaptic:
		return "haptic"
	default:
		return "unknown"
	}
}

// Haptic names a vibration pattern that accompanies an event.
type Haptic int

const (
	HapticNone Haptic = iota
	// HapticTap is a single short buzz.
	HapticTap
	// HapticPulse is the double buzz for received feelings.
	HapticPulse
)

// Pattern returns alternating wait/vibrate durations.
func (h Haptic) Pattern() []time.Duration {
	switch h {
	case HapticTap:
		return []time.Duration{50 * time.Millisecond}
	case HapticPulse:
		return []time.Duration{0, 100 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond}
	default:
		return nil
	}
}

// Event describes something the user should see or feel.
type Event struct {
	Kind    EventKind
	Lobby   string
	User    string
	Message *Message
	Haptic  Haptic
}
