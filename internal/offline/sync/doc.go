// Package sync replays the pending write log against the remote API.
//
// Overview
//
// Writes made while offline are applied to the local store at once and
// appended to the mutation queue. When connectivity returns, the Engine
// drains that queue one item at a time, in ascending qid order, and then
// refreshes the local snapshot from the server:
//
//	mutation queue (qid 1, 2, 3, ...)
//	     ↓  one request at a time
//	  Engine ──→ gateway ──→ remote API
//	     ↓
//	GET /crops ──→ local store (PutAll)
//
// Any received response, accepted or rejected, removes the item from the
// queue under the default DropAll policy. A request that gets no response
// at all stops the pass and leaves that item and everything after it for
// the next one.
//
// Progress
//
// The Engine publishes State snapshots through a Broker. Subscribers are
// called synchronously, in registration order, on the syncing goroutine:
//
//	unsubscribe := engine.Subscribe(func(s sync.State) {
//	    if !s.Syncing && s.Remaining == 0 {
//	        fmt.Println("all changes synced")
//	    }
//	})
//	defer unsubscribe()
//
// Usage
//
//	store, err := db.Open(ctx, ".khetbook/offline.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	engine := sync.New(store, store, client, monitor, nil)
//	defer engine.Close()
//
//	result, err := engine.SyncNow(ctx)
package sync
