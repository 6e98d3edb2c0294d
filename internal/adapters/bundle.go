package adapters

import "context"

// ChannelWhitelist answers whether a video belongs to a channel that
// should never be skipped. Lookups need a catalog API, so the
// implementation is an external collaborator like the session transport.
type ChannelWhitelist interface {
	Contains(ctx context.Context, videoID string) (bool, error)
}

// Bundle wires the external collaborators in one place. The monitoring
// core treats a nil factory as "not configured" and refuses to start;
// embedding builds supply their transport here.
type Bundle struct {
	SessionFactory SessionClientFactory
	Whitelist      ChannelWhitelist
}

// NewBundle returns the default wiring. The session transport is an
// external collaborator, so the default bundle carries no factory; the
// -self-test flag reports this state.
func NewBundle() *Bundle {
	return &Bundle{}
}

// SessionFactoryWired reports whether a transport factory is present.
func (b *Bundle) SessionFactoryWired() bool {
	return b != nil && b.SessionFactory != nil
}
