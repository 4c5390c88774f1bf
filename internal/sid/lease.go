package sid

import "context"

// LeaseSource hands out gateway lease ids. In single-process deployments the
// static source returns lease 0; clustered gateways acquire a lease from the
// coordinator so their allocators never collide.
type LeaseSource interface {
	Acquire(ctx context.Context) (uint16, error)
}

// StaticLease is a LeaseSource that always returns the same lease id.
type StaticLease uint16

func (s StaticLease) Acquire(context.Context) (uint16, error) {
	return uint16(s) & MaxLease, nil
}
