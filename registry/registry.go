// Package registry holds the broker's table of installed services, keyed by
// access path, and an optional etcd mirror of it for observers.
package registry

import (
	"context"

	"mini-lpc/message"
)

// Registry is the broker's registration table.
type Registry interface {
	// Register inserts reg, replacing any registration for the same access path.
	// It returns the displaced registration, if any.
	Register(reg message.Registration) (prev message.Registration, replaced bool)
	// Deregister removes the registration for accessPath.
	Deregister(accessPath string) (message.Registration, bool)
	Lookup(accessPath string) (message.Registration, bool)
	List() []message.Registration
	Len() int
}

// Publisher mirrors registrations outside the broker process.
type Publisher interface {
	Publish(ctx context.Context, reg message.Registration) error
	Withdraw(ctx context.Context, accessPath string) error
	Close() error
}
