package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"qazabot/internal/engine"
	"qazabot/internal/prayer"
	"qazabot/internal/provider"
	"qazabot/internal/storage"
	kit "qazabot/internal/transport"
	logx "qazabot/pkg/logx"
	"qazabot/pkg/tgui"
)

const (
	btnSendLocation = "📍 Send my location"
	btnManualCity   = "🏙 Enter city manually"
)

// Store is the slice of the storage layer the router needs.
type Store interface {
	UpsertUser(ctx context.Context, u storage.User) error
	GetUser(ctx context.Context, id int64) (storage.User, error)
	PutSchedule(ctx context.Context, userID int64, day string, sched prayer.Schedule) error
	Schedule(ctx context.Context, userID int64) (prayer.Schedule, error)
}

// Timings computes a schedule from coordinates.
type Timings interface {
	Timings(ctx context.Context, lat, lon float64) (prayer.Schedule, error)
}

// Geocoder resolves a typed city name.
type Geocoder interface {
	Geocode(ctx context.Context, city string) (provider.Place, error)
}

// Registry is the engine surface the router drives.
type Registry interface {
	Register(ctx context.Context, userID int64) error
	Resolve(userID int64, out engine.Outcome) error
}

// Backfiller appends manual ledger entries.
type Backfiller interface {
	Resolve(ctx context.Context, rec engine.OutcomeRecord) (inserted bool, err error)
}

type dialogState int

const (
	stateAwaitingName dialogState = iota + 1
	stateAwaitingLocation
)

type dialog struct {
	state dialogState
	name  string
}

// Router drives the onboarding dialog and routes callbacks and commands.
// Dialog state is in-memory and per chat; a process restart simply asks the
// user to /start again.
type Router struct {
	ad       kit.Adapter
	store    Store
	times    Timings
	geo      Geocoder
	reg      Registry
	backfill Backfiller
	log      logx.Logger

	mu      sync.Mutex
	dialogs map[int64]*dialog
}

func NewRouter(ad kit.Adapter, store Store, times Timings, geo Geocoder, reg Registry, backfill Backfiller, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		ad:       ad,
		store:    store,
		times:    times,
		geo:      geo,
		reg:      reg,
		backfill: backfill,
		log:      log,
		dialogs:  make(map[int64]*dialog),
	}
}

// Handle processes one incoming update.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	case kit.UpdateLocation:
		if up.Message != nil && up.Message.Location != nil {
			r.handleLocation(ctx, up.Message)
		}
	case kit.UpdateMessage:
		if up.Message != nil {
			r.handleText(ctx, up.Message)
		}
	}
}

func (r *Router) handleText(ctx context.Context, m *kit.Message) {
	text := strings.TrimSpace(m.Text)
	switch {
	case strings.HasPrefix(text, "/start"):
		r.setDialog(m.ChatID, &dialog{state: stateAwaitingName})
		r.send(ctx, m.ChatID, "As-salamu alaykum! I'll remind you of prayer times and track missed prayers. What's your name?")
		return
	case strings.HasPrefix(text, "/times"):
		r.replyTimes(ctx, m.ChatID)
		return
	case strings.HasPrefix(text, "/qaza"):
		r.handleBackfill(ctx, m.ChatID, strings.TrimSpace(strings.TrimPrefix(text, "/qaza")))
		return
	case strings.HasPrefix(text, "/help"):
		r.send(ctx, m.ChatID, "Commands:\n/start — register or update your location\n/times — today's prayer times\n/qaza <prayer> — log a missed prayer manually")
		return
	}

	d := r.getDialog(m.ChatID)
	if d == nil {
		r.send(ctx, m.ChatID, "Send /start to set up reminders, or /help for commands.")
		return
	}

	switch d.state {
	case stateAwaitingName:
		name := tgui.TruncRunes(text, 64)
		if name == "" {
			name = strings.TrimSpace(m.FromName)
		}
		d.name = name
		d.state = stateAwaitingLocation
		r.setDialog(m.ChatID, d)
		r.askLocation(ctx, m.ChatID, name)
	case stateAwaitingLocation:
		if text == btnManualCity {
			r.send(ctx, m.ChatID, "Type your city name (e.g. \"Istanbul\").")
			return
		}
		place, err := r.geo.Geocode(ctx, text)
		if err != nil {
			var perr *provider.Error
			if errors.As(err, &perr) && !perr.Transient() {
				r.send(ctx, m.ChatID, fmt.Sprintf("I couldn't find %q. Try another spelling or share your location.", text))
			} else {
				r.log.Warn("geocode failed", logx.Int64("chat", m.ChatID), logx.Err(err))
				r.send(ctx, m.ChatID, "The city lookup is unavailable right now. Please try again in a minute.")
			}
			return
		}
		r.completeOnboarding(ctx, m.ChatID, d.name, place.Lat, place.Lon, place.DisplayName)
	}
}

func (r *Router) handleLocation(ctx context.Context, m *kit.Message) {
	name := ""
	if d := r.getDialog(m.ChatID); d != nil {
		name = d.name
	} else if u, err := r.store.GetUser(ctx, m.ChatID); err == nil {
		// A bare location from a known user is a relocation.
		name = u.Name
	} else {
		r.send(ctx, m.ChatID, "Send /start first so I know who you are.")
		return
	}
	r.completeOnboarding(ctx, m.ChatID, name, m.Location.Lat, m.Location.Lon, "")
}

// completeOnboarding persists the user, computes and stores today's
// schedule, replies with the times, and (re)registers the scheduling pair.
func (r *Router) completeOnboarding(ctx context.Context, chatID int64, name string, lat, lon float64, city string) {
	sched, err := r.times.Timings(ctx, lat, lon)
	if err != nil {
		r.log.Warn("timings fetch failed", logx.Int64("chat", chatID), logx.Err(err))
		r.send(ctx, chatID, "I couldn't fetch prayer times for that location. Please try again shortly.")
		return
	}

	if err := r.store.UpsertUser(ctx, storage.User{ID: chatID, Name: name, Lat: lat, Lon: lon, City: city}); err != nil {
		r.log.Error("user upsert failed", logx.Int64("chat", chatID), logx.Err(err))
		r.send(ctx, chatID, "Something went wrong saving your profile. Please try again.")
		return
	}

	day := prayer.Day(time.Now())
	if loc, lerr := sched.Location(); lerr == nil {
		day = prayer.Day(time.Now().In(loc))
	}
	if err := r.store.PutSchedule(ctx, chatID, day, sched); err != nil {
		r.log.Error("schedule persist failed", logx.Int64("chat", chatID), logx.Err(err))
		r.send(ctx, chatID, "Something went wrong saving your schedule. Please try again.")
		return
	}

	if err := r.reg.Register(ctx, chatID); err != nil {
		r.log.Error("session register failed", logx.Int64("chat", chatID), logx.Err(err))
	}
	r.clearDialog(chatID)

	b := tgui.New().Title("🕌", fmt.Sprintf("You're all set, %s!", name)).Blank()
	appendTimes(b, sched)
	b.Blank().Line("I'll remind you at each prayer and check in before a window closes.")
	msg := b.Build()
	msg.Opt.ReplyMarkupAdapter = tgui.RemoveKeyboard()
	if _, err := msg.Send(ctx, r.ad, kit.ChatTarget{ChatID: chatID}); err != nil {
		r.log.Warn("onboarding reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) replyTimes(ctx context.Context, chatID int64) {
	sched, err := r.store.Schedule(ctx, chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.send(ctx, chatID, "You're not set up yet. Send /start first.")
			return
		}
		r.log.Warn("schedule read failed", logx.Int64("chat", chatID), logx.Err(err))
		r.send(ctx, chatID, "I couldn't read your schedule. Please try again.")
		return
	}
	b := tgui.New().Title("🕌", "Today's prayer times").Blank()
	appendTimes(b, sched)
	if _, err := b.Build().Send(ctx, r.ad, kit.ChatTarget{ChatID: chatID}); err != nil {
		r.log.Warn("times reply failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func appendTimes(b *tgui.Builder, sched prayer.Schedule) {
	order := []prayer.Prayer{prayer.Fajr, prayer.Sunrise, prayer.Dhuhr, prayer.Asr, prayer.Maghrib, prayer.Isha}
	for _, p := range order {
		if t, ok := sched.Times[p]; ok {
			b.KV(titleCase(string(p)), t)
		}
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (r *Router) handleBackfill(ctx context.Context, chatID int64, arg string) {
	p, ok := prayer.Parse(arg)
	if !ok {
		r.send(ctx, chatID, "Usage: /qaza <fajr|dhuhr|asr|maghrib|isha>")
		return
	}

	day := prayer.Day(time.Now())
	if sched, err := r.store.Schedule(ctx, chatID); err == nil {
		if loc, lerr := sched.Location(); lerr == nil {
			day = prayer.Day(time.Now().In(loc))
		}
	}

	if _, err := r.backfill.Resolve(ctx, engine.OutcomeRecord{
		UserID:  chatID,
		Prayer:  p,
		Day:     day,
		Outcome: engine.OutcomeMissed,
		Source:  engine.SourceBackfill,
	}); err != nil {
		r.log.Error("backfill write failed", logx.Int64("chat", chatID), logx.Err(err))
		r.send(ctx, chatID, "Couldn't record that. Please try again.")
		return
	}
	r.send(ctx, chatID, fmt.Sprintf("Recorded a missed %s. May you make it up soon.", p))
}

func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	scope, action, payload := tgui.Split(cb.Data)
	if scope != CallbackScope {
		_ = r.ad.AnswerCallback(ctx, cb.ID, "")
		return
	}
	out, ok := engine.ParseOutcome(action)
	if !ok {
		_ = r.ad.AnswerCallback(ctx, cb.ID, "Unknown action.")
		return
	}

	target := payload
	if i := strings.IndexByte(payload, '|'); i > 0 {
		target = payload[:i]
	}

	err := r.reg.Resolve(cb.ChatID, out)
	switch {
	case err == nil:
		if out == engine.OutcomePrayed {
			_ = r.ad.AnswerCallback(ctx, cb.ID, fmt.Sprintf("Recorded: %s prayed. 🤲", target))
		} else {
			_ = r.ad.AnswerCallback(ctx, cb.ID, fmt.Sprintf("Recorded: %s missed.", target))
		}
	case errors.Is(err, engine.ErrNoPending), errors.Is(err, engine.ErrNotRegistered):
		_ = r.ad.AnswerCallback(ctx, cb.ID, "This prompt has already been resolved.")
	default:
		r.log.Warn("resolve failed", logx.Int64("chat", cb.ChatID), logx.Err(err))
		_ = r.ad.AnswerCallback(ctx, cb.ID, "Something went wrong.")
	}
}

func (r *Router) askLocation(ctx context.Context, chatID int64, name string) {
	kb := tgui.ReplyKeyboard(
		[]tele.Btn{tgui.LocationBtn(btnSendLocation)},
		[]tele.Btn{tgui.TextBtn(btnManualCity)},
	)
	msg := tgui.New().
		Line(fmt.Sprintf("Nice to meet you, %s! Where should I compute prayer times for?", name)).
		Build()
	msg.Opt.ReplyMarkupAdapter = kb
	if _, err := msg.Send(ctx, r.ad, kit.ChatTarget{ChatID: chatID}); err != nil {
		r.log.Warn("location ask failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) send(ctx context.Context, chatID int64, text string) {
	if _, err := r.ad.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		r.log.Warn("send failed", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) getDialog(chatID int64) *dialog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dialogs[chatID]
}

func (r *Router) setDialog(chatID int64, d *dialog) {
	r.mu.Lock()
	r.dialogs[chatID] = d
	r.mu.Unlock()
}

func (r *Router) clearDialog(chatID int64) {
	r.mu.Lock()
	delete(r.dialogs, chatID)
	r.mu.Unlock()
}
