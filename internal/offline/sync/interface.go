package sync

import (
	"context"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/gateway"
	"github.com/tikaramgahane2k4/khetbook/internal/offline/schema"
)

// Queue is the durable pending write log.
type Queue interface {
	// List returns every pending mutation in ascending qid order.
	List(ctx context.Context) ([]*schema.Mutation, error)

	// Dequeue removes exactly one mutation. Unknown qids are a no-op.
	Dequeue(ctx context.Context, qid int64) error

	// Len returns the number of pending mutations.
	Len(ctx context.Context) (int, error)

	// ResolveTempID durably points pending mutations that address tempID
	// at serverID. The create that introduced tempID is left alone.
	ResolveTempID(ctx context.Context, tempID, serverID string) (int, error)
}

// Snapshot receives the authoritative record collection after a pass.
type Snapshot interface {
	// PutAll replaces the whole local collection.
	PutAll(ctx context.Context, records []*schema.Record) error
}

// Gateway sends requests to the remote API. It returns a response for
// every status, or a *gateway.NetworkError when nothing was received.
type Gateway interface {
	Do(ctx context.Context, req gateway.Request) (*gateway.Response, error)
}

// Connectivity reports whether the remote API is believed reachable.
type Connectivity interface {
	Online() bool
}
