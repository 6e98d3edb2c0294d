package domain

// PlayState is the coarse playback state reported by the remote device.
type PlayState int

const (
	StateUnknown PlayState = iota
	StateStopped
	StatePlaying
	StatePaused
	StateStarting
	StateBuffering
)

func (s PlayState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStarting:
		return "starting"
	case StateBuffering:
		return "buffering"
	default:
		return "unknown"
	}
}

// ParsePlayState maps the wire representation (a stringified digit) to a
// PlayState. Unrecognized values map to StateUnknown.
func ParsePlayState(raw string) PlayState {
	switch raw {
	case "0":
		return StateStopped
	case "1":
		return StatePlaying
	case "2":
		return StatePaused
	case "3":
		return StateStarting
	case "1088":
		return StateBuffering
	default:
		return StateUnknown
	}
}

// PlaybackState is a snapshot delivered with every relevant remote event.
type PlaybackState struct {
	VideoID  string
	State    PlayState
	Position float64
}

// Device is one configured remote display. Offset shifts computed skip
// timing to compensate for the device's systematic command latency; it is
// immutable after load.
type Device struct {
	ScreenID string
	Name     string
	Offset   float64
}

// DisplayName returns the configured name, falling back to the screen id.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ScreenID
}
