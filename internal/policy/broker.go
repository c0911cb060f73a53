package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	kadoErrors "github.com/kadohq/kado/internal/errors"

	"github.com/oklog/ulid/v2"
)

// PendingConfirmation is the view the presentation layer gets of one
// suspended tool call.
type PendingConfirmation struct {
	ID        string    `json:"id"`
	TurnID    string    `json:"turn_id"`
	Tool      string    `json:"tool"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type pendingEntry struct {
	view    PendingConfirmation
	resolve chan bool // buffered; true = confirmed
}

// Broker suspends a tool call until an external decision arrives or the
// deadline passes. At most one confirmation may be outstanding per turn.
type Broker struct {
	mu       sync.Mutex
	byTurn   map[string]*pendingEntry
	byID     map[string]*pendingEntry
	timeout  time.Duration
	notifier func(PendingConfirmation)
}

func NewBroker(timeout time.Duration) *Broker {
	return &Broker{
		byTurn:  make(map[string]*pendingEntry),
		byID:    make(map[string]*pendingEntry),
		timeout: timeout,
	}
}

// SetNotifier registers the presentation-layer callback invoked whenever a
// confirmation becomes pending.
func (b *Broker) SetNotifier(fn func(PendingConfirmation)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifier = fn
}

// Await blocks the calling turn until the request is confirmed, rejected or
// timed out. A second concurrent request for the same turn fails fast with
// ErrConfirmationPending. Context cancellation counts as rejection.
func (b *Broker) Await(ctx context.Context, req ToolCallRequest, reason string) (DecisionState, error) {
	entry, err := b.register(req, reason)
	if err != nil {
		return "", err
	}
	defer b.deregister(entry)

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case confirmed := <-entry.resolve:
		if confirmed {
			return DecisionConfirmed, nil
		}
		return DecisionRejected, nil
	case <-timer.C:
		slog.Info("Confirmation timed out",
			"id", entry.view.ID,
			"tool", entry.view.Tool,
			"after", b.timeout,
		)
		return DecisionTimedOut, nil
	case <-ctx.Done():
		return DecisionRejected, nil
	}
}

// Resolve settles a pending confirmation by ID. Settling an unknown or
// already-settled confirmation returns ErrNotFound.
func (b *Broker) Resolve(id string, approve bool) error {
	b.mu.Lock()
	entry, ok := b.byID[id]
	if ok {
		delete(b.byID, id)
		delete(b.byTurn, entry.view.TurnID)
	}
	b.mu.Unlock()

	if !ok {
		return kadoErrors.NotFound(fmt.Sprintf("confirmation %s", id))
	}

	// Buffered channel: the send never blocks, and a waiter that already
	// timed out simply never reads it.
	entry.resolve <- approve
	return nil
}

// Pending lists outstanding confirmations, oldest first.
func (b *Broker) Pending() []PendingConfirmation {
	b.mu.Lock()
	defer b.mu.Unlock()

	views := make([]PendingConfirmation, 0, len(b.byID))
	for _, entry := range b.byID {
		views = append(views, entry.view)
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views
}

func (b *Broker) register(req ToolCallRequest, reason string) (*pendingEntry, error) {
	b.mu.Lock()
	if _, exists := b.byTurn[req.TurnID]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("turn %s: %w", req.TurnID, kadoErrors.ErrConfirmationPending)
	}

	entry := &pendingEntry{
		view: PendingConfirmation{
			ID:        ulid.Make().String(),
			TurnID:    req.TurnID,
			Tool:      req.Tool,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		},
		resolve: make(chan bool, 1),
	}
	b.byTurn[req.TurnID] = entry
	b.byID[entry.view.ID] = entry
	notifier := b.notifier
	b.mu.Unlock()

	slog.Info("Confirmation required", "id", entry.view.ID, "tool", req.Tool, "reason", reason)
	if notifier != nil {
		notifier(entry.view)
	}
	return entry, nil
}

func (b *Broker) deregister(entry *pendingEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Resolve may have removed it already; only clear our own registration.
	if current, ok := b.byID[entry.view.ID]; ok && current == entry {
		delete(b.byID, entry.view.ID)
		delete(b.byTurn, entry.view.TurnID)
	}
}
