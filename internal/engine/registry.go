package engine

import (
	"context"
	"sync"
	"time"

	"qazabot/internal/eventbus"
	"qazabot/internal/runtime/supervisor"
	logx "qazabot/pkg/logx"
)

// Deps are the collaborators shared by every session.
type Deps struct {
	Schedules ScheduleSource
	Channel   Channel
	Resolver  *Resolver
	Bus       eventbus.Bus

	// Now overrides the clock in tests. Nil means time.Now.
	Now func() time.Time
}

// Registry owns exactly one notifier/warden pair per registered user. Each
// session runs its pair under a private supervisor, so cancelling a session
// stops precisely its own two loops and nothing else.
type Registry struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	mu       sync.Mutex // serializes session replacement
	sessions map[int64]*session
}

type session struct {
	userID int64
	sup    *supervisor.Supervisor
	warden *warden
}

func NewRegistry(cfg Config, deps Deps, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		log:      log,
		sessions: make(map[int64]*session),
	}
}

// Register starts a fresh session for the user, cancelling and waiting out
// any existing pair first so an old loop can never double-notify after a
// relocation.
func (r *Registry) Register(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[userID]; ok {
		delete(r.sessions, userID)
		r.stopSession(ctx, old)
	}

	sup := supervisor.New(context.Background(),
		supervisor.WithLogger(r.log.With(logx.Int64("user", userID))))

	w := newWarden(userID, r.cfg, r.deps.Schedules, r.deps.Channel, r.deps.Resolver, r.deps.Bus,
		r.log.With(logx.String("comp", "warden")), r.deps.Now)
	n := newNotifier(userID, r.cfg, r.deps.Schedules, r.deps.Channel, r.deps.Bus,
		r.log.With(logx.String("comp", "notifier")), r.deps.Now)

	sup.GoRestart("notify", n.run)
	sup.GoRestart("warden", w.run)

	r.sessions[userID] = &session{userID: userID, sup: sup, warden: w}
	r.log.Info("session registered", logx.Int64("user", userID))
	return nil
}

// Unregister cancels the user's pair and drops the session.
func (r *Registry) Unregister(ctx context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[userID]
	if !ok {
		return ErrNotRegistered
	}
	delete(r.sessions, userID)
	r.stopSession(ctx, s)
	r.log.Info("session unregistered", logx.Int64("user", userID))
	return nil
}

// Resolve routes a prompt answer to the user's warden. ErrNotRegistered when
// the user has no session, ErrNoPending when no warning is open.
func (r *Registry) Resolve(userID int64, out Outcome) error {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	r.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	return s.warden.Offer(out)
}

// Registered reports whether the user has a live session.
func (r *Registry) Registered(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[userID]
	return ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown cancels every session and waits for the loops to drain.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[int64]*session)
	r.mu.Unlock()

	for _, s := range sessions {
		r.stopSession(ctx, s)
	}
}

func (r *Registry) stopSession(ctx context.Context, s *session) {
	s.sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.sup.Wait(wctx); err != nil {
		r.log.Warn("session stop incomplete", logx.Int64("user", s.userID), logx.Err(err))
	}
}
