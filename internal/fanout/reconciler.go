package fanout

import (
	"context"
	"time"

	"locshare/backend/internal/hub"
	"locshare/backend/internal/logging"

	"github.com/google/uuid"
)

// Handlers receive what a Reconciler produces. Either may be nil.
type Handlers struct {
	// Snapshot is called with the full merged view after every pull.
	Snapshot func([]FriendLocation)
	// Event is called for each pushed change that altered the view, and for
	// every friendship change.
	Event func(hub.Event)
}

// Reconciler keeps a View current for one user by combining the push
// subscription with an initial pull, a periodic pull and explicit refreshes.
// A friendship change tears the subscription down and opens a new one so the
// push filter picks up the new friend set.
type Reconciler struct {
	router   *Router
	self     uuid.UUID
	interval time.Duration
	handlers Handlers
	view     *View

	refresh     chan struct{}
	resubscribe chan struct{}
}

func NewReconciler(router *Router, self uuid.UUID, interval time.Duration, handlers Handlers) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		router:      router,
		self:        self,
		interval:    interval,
		handlers:    handlers,
		view:        NewView(),
		refresh:     make(chan struct{}, 1),
		resubscribe: make(chan struct{}, 1),
	}
}

func (r *Reconciler) View() *View { return r.view }

// Refresh asks for an immediate pull, e.g. when the consuming view regains
// the foreground. It never blocks.
func (r *Reconciler) Refresh() {
	select {
	case r.refresh <- struct{}{}:
	default:
	}
}

// Run subscribes, pulls and then keeps pulling every interval until ctx is
// done. It returns the error of the initial subscribe or pull; later pull
// failures are logged and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	sub, err := r.router.Subscribe(ctx, r.self, r.handle)
	if err != nil {
		return err
	}
	defer func() { sub.Cancel() }()

	if err := r.pull(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.pullLogged(ctx)
		case <-r.refresh:
			r.pullLogged(ctx)
		case <-r.resubscribe:
			next, err := r.router.Subscribe(ctx, r.self, r.handle)
			if err != nil {
				logging.Warn().Err(err).Str("user_id", r.self.String()).Msg("resubscribe failed, keeping previous filter")
				continue
			}
			sub.Cancel()
			sub = next
			r.pullLogged(ctx)
		}
	}
}

func (r *Reconciler) pull(ctx context.Context) error {
	list, err := r.router.GetFriendLocations(ctx, r.self)
	if err != nil {
		return err
	}
	r.view.Reset(list)
	if r.handlers.Snapshot != nil {
		r.handlers.Snapshot(r.view.Snapshot(r.router.now()))
	}
	return nil
}

func (r *Reconciler) pullLogged(ctx context.Context) {
	if err := r.pull(ctx); err != nil && ctx.Err() == nil {
		logging.Warn().Err(err).Str("user_id", r.self.String()).Msg("friend location pull failed")
	}
}

func (r *Reconciler) handle(ev hub.Event) {
	switch ev.Type {
	case hub.EventLocation:
		if ev.Location == nil || !r.view.Apply(*ev.Location) {
			return
		}
	case hub.EventWatchState:
		if ev.WatchState == nil || !r.view.ApplyWatchState(ev.WatchState.UserID, ev.WatchState.WatchState) {
			return
		}
	case hub.EventFriendship:
		select {
		case r.resubscribe <- struct{}{}:
		default:
		}
	default:
		return
	}
	if r.handlers.Event != nil {
		r.handlers.Event(ev)
	}
}
