package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tikaramgahane2k4/khetbook/internal/offline/connectivity"
	offsync "github.com/tikaramgahane2k4/khetbook/internal/offline/sync"
)

// SyncProgressData is the payload of sync_progress.
type SyncProgressData struct {
	Syncing   bool `json:"syncing"`
	Total     int  `json:"total"`
	Done      int  `json:"done"`
	Remaining int  `json:"remaining"`
}

// SyncCompleteData is the payload of sync_complete. Success means the
// queue was fully drained.
type SyncCompleteData struct {
	Total     int  `json:"total"`
	Done      int  `json:"done"`
	Remaining int  `json:"remaining"`
	Success   bool `json:"success"`
}

// ConnectivityData is the payload of connectivity. Pending is the number
// of writes waiting for the network.
type ConnectivityData struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
}

// Status is the snapshot served on /status and sent on connect.
type Status struct {
	Online  bool          `json:"online"`
	Pending int           `json:"pending"`
	Sync    offsync.State `json:"sync"`
	Clients int           `json:"clients"`
}

// Subscriber delivers sync engine progress.
type Subscriber interface {
	Subscribe(fn func(offsync.State)) (unsubscribe func())
}

// PendingFunc counts queued writes.
type PendingFunc func(ctx context.Context) (int, error)

// Handler turns sync engine and connectivity events into dashboard
// messages.
type Handler struct {
	server  *Server
	pending PendingFunc
	logger  zerolog.Logger

	mu     sync.Mutex
	status Status
}

// NewHandler creates a handler broadcasting through server. pending may
// be nil.
func NewHandler(server *Server, pending PendingFunc, online bool, logger zerolog.Logger) *Handler {
	h := &Handler{
		server:  server,
		pending: pending,
		logger:  logger,
		status:  Status{Online: online},
	}
	h.refreshPending(context.Background())
	server.SetStatusFunc(h.Status)
	return h
}

// Status returns the current snapshot.
func (h *Handler) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// OnSyncState handles engine progress updates.
func (h *Handler) OnSyncState(s offsync.State) {
	h.mu.Lock()
	h.status.Sync = s
	if !s.Syncing {
		h.status.Pending = s.Remaining
	}
	h.mu.Unlock()

	if s.Syncing {
		h.broadcast(MessageTypeSyncProgress, SyncProgressData{
			Syncing:   true,
			Total:     s.Total,
			Done:      s.Done,
			Remaining: s.Remaining,
		})
		return
	}

	h.logger.Info().Int("done", s.Done).Int("remaining", s.Remaining).Msg("sync complete")
	h.broadcast(MessageTypeSyncComplete, SyncCompleteData{
		Total:     s.Total,
		Done:      s.Done,
		Remaining: s.Remaining,
		Success:   s.Remaining == 0,
	})
	h.broadcastConnectivity()
}

// OnConnectivity handles online/offline transitions.
func (h *Handler) OnConnectivity(t connectivity.Transition) {
	h.mu.Lock()
	h.status.Online = t.Online
	h.mu.Unlock()

	h.refreshPending(context.Background())
	h.broadcastConnectivity()
}

// Watch subscribes to engine and follows monitor transitions until ctx is
// done. It returns after both subscriptions are released.
func (h *Handler) Watch(ctx context.Context, engine Subscriber, events <-chan connectivity.Transition) {
	unsubscribe := engine.Subscribe(h.OnSyncState)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-events:
			if !ok {
				<-ctx.Done()
				return
			}
			h.OnConnectivity(t)
		}
	}
}

func (h *Handler) refreshPending(ctx context.Context) {
	if h.pending == nil {
		return
	}
	n, err := h.pending(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to count pending writes")
		return
	}
	h.mu.Lock()
	h.status.Pending = n
	h.mu.Unlock()
}

func (h *Handler) broadcastConnectivity() {
	st := h.Status()
	h.broadcast(MessageTypeConnectivity, ConnectivityData{Online: st.Online, Pending: st.Pending})
}

func (h *Handler) broadcast(typ MessageType, data any) {
	msg, err := encode(typ, data)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(typ)).Msg("failed to marshal message")
		return
	}
	h.server.Broadcast(msg)
}

func encode(typ MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}, nil
}
