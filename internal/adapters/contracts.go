package adapters

import "context"

// EventCallback receives one raw remote event: its kind tag and the
// argument payload as delivered on the wire.
type EventCallback func(kind string, payload []byte)

// Subscription is a cancellable handle on an open event stream. Done is
// closed when the stream ends, whether cancelled locally or dropped by the
// remote end; Err reports why.
type Subscription interface {
	Cancel()
	Done() <-chan struct{}
	Err() error
}

// SessionClient is the remote-session transport contract. Implementations
// own pairing, message framing and the subscribe/command wire protocol;
// the monitoring core only drives this interface.
type SessionClient interface {
	// RefreshAuth obtains or refreshes the link token for the screen.
	RefreshAuth(ctx context.Context) error
	// IsLinked reports whether a usable link token is held.
	IsLinked() bool
	// IsAvailable polls whether the screen is reachable for a session.
	IsAvailable(ctx context.Context) (bool, error)
	Connect(ctx context.Context) error
	IsConnected() bool
	Disconnect(ctx context.Context) error
	// Subscribe opens the event stream and delivers events to cb until the
	// subscription is cancelled or the remote end drops the session.
	Subscribe(ctx context.Context, cb EventCallback) (Subscription, error)
	// Command issues a fire-and-forget remote command such as setVolume,
	// skipAd or setAutoplayMode.
	Command(ctx context.Context, name string, args map[string]string) error
	SeekTo(ctx context.Context, position float64) error
	// Pair links a new screen by short code. Used by the setup flow, not
	// the monitoring loop.
	Pair(ctx context.Context, code string) (bool, error)
	// ScreenName returns the device-reported name once connected.
	ScreenName() string
}

// SessionClientFactory creates one SessionClient per configured screen.
type SessionClientFactory interface {
	NewSessionClient(screenID, joinName string) (SessionClient, error)
}
