package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"qazabot/internal/engine"
	"qazabot/internal/prayer"
	"qazabot/internal/provider"
	"qazabot/internal/storage"
	kit "qazabot/internal/transport"
	logx "qazabot/pkg/logx"
	"qazabot/pkg/tgui"
)

type sentMessage struct {
	chatID int64
	text   string
	opt    *kit.SendOptions
}

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []sentMessage
	deleted []kit.MessageRef
	answers []string
	nextID  int
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID: to.ChatID, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeAdapter) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]storage.User
	scheds map[int64]prayer.Schedule
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]storage.User{}, scheds: map[int64]prayer.Schedule{}}
}

func (f *fakeStore) UpsertUser(ctx context.Context, u storage.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (storage.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) PutSchedule(ctx context.Context, userID int64, day string, sched prayer.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheds[userID] = sched
	return nil
}

func (f *fakeStore) Schedule(ctx context.Context, userID int64) (prayer.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scheds[userID]
	if !ok {
		return prayer.Schedule{}, storage.ErrNotFound
	}
	return s, nil
}

func routerSchedule() prayer.Schedule {
	return prayer.Schedule{
		Times: map[prayer.Prayer]string{
			prayer.Fajr:    "05:00",
			prayer.Sunrise: "06:10",
			prayer.Dhuhr:   "12:30",
			prayer.Asr:     "15:45",
			prayer.Maghrib: "18:20",
			prayer.Isha:    "19:40",
		},
		Timezone: "Asia/Seoul",
	}
}

type fakeTimings struct{ err error }

func (f *fakeTimings) Timings(ctx context.Context, lat, lon float64) (prayer.Schedule, error) {
	if f.err != nil {
		return prayer.Schedule{}, f.err
	}
	return routerSchedule(), nil
}

type fakeGeocoder struct {
	place provider.Place
	err   error
}

func (f *fakeGeocoder) Geocode(ctx context.Context, city string) (provider.Place, error) {
	if f.err != nil {
		return provider.Place{}, f.err
	}
	return f.place, nil
}

type fakeRegistry struct {
	mu         sync.Mutex
	registered []int64
	resolved   []engine.Outcome
	resolveErr error
}

func (f *fakeRegistry) Register(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, userID)
	return nil
}

func (f *fakeRegistry) Resolve(userID int64, out engine.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, out)
	return nil
}

type fakeBackfiller struct {
	mu   sync.Mutex
	recs []engine.OutcomeRecord
}

func (f *fakeBackfiller) Resolve(ctx context.Context, rec engine.OutcomeRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return true, nil
}

type routerFixture struct {
	ad    *fakeAdapter
	store *fakeStore
	geo   *fakeGeocoder
	reg   *fakeRegistry
	back  *fakeBackfiller
	r     *Router
}

func newFixture() *routerFixture {
	f := &routerFixture{
		ad:    &fakeAdapter{},
		store: newFakeStore(),
		geo:   &fakeGeocoder{place: provider.Place{DisplayName: "Seoul", Lat: 37.56, Lon: 126.97}},
		reg:   &fakeRegistry{},
		back:  &fakeBackfiller{},
	}
	f.r = NewRouter(f.ad, f.store, &fakeTimings{}, f.geo, f.reg, f.back, logx.Nop())
	return f
}

func textUpdate(chatID int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, FromID: chatID, Text: text}}
}

func TestOnboardingViaCity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.r.Handle(ctx, textUpdate(10, "/start"))
	if !strings.Contains(f.ad.lastText(), "name") {
		t.Fatalf("expected name prompt, got %q", f.ad.lastText())
	}

	f.r.Handle(ctx, textUpdate(10, "Fatima"))
	if !strings.Contains(f.ad.lastText(), "Fatima") {
		t.Fatalf("expected location ask addressed by name, got %q", f.ad.lastText())
	}

	f.r.Handle(ctx, textUpdate(10, "Seoul"))

	u, err := f.store.GetUser(ctx, 10)
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if u.Name != "Fatima" || u.Lat != 37.56 {
		t.Fatalf("user = %+v", u)
	}
	if _, err := f.store.Schedule(ctx, 10); err != nil {
		t.Fatalf("schedule not persisted: %v", err)
	}
	if len(f.reg.registered) != 1 || f.reg.registered[0] != 10 {
		t.Fatalf("registered = %v", f.reg.registered)
	}
	if !strings.Contains(f.ad.lastText(), "05:00") {
		t.Fatalf("schedule reply missing times: %q", f.ad.lastText())
	}
	if f.r.getDialog(10) != nil {
		t.Fatal("dialog not cleared after onboarding")
	}
}

func TestOnboardingViaLocation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.r.Handle(ctx, textUpdate(11, "/start"))
	f.r.Handle(ctx, textUpdate(11, "Omar"))
	f.r.Handle(ctx, kit.Update{Kind: kit.UpdateLocation, Message: &kit.Message{
		ChatID:   11,
		Location: &kit.Location{Lat: 41.0, Lon: 28.9},
	}})

	u, err := f.store.GetUser(ctx, 11)
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if u.Lat != 41.0 || u.Lon != 28.9 {
		t.Fatalf("coords = %v,%v", u.Lat, u.Lon)
	}
	if len(f.reg.registered) != 1 {
		t.Fatalf("registered = %v", f.reg.registered)
	}
}

func TestRelocationWithoutDialog(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if err := f.store.UpsertUser(ctx, storage.User{ID: 12, Name: "Zaid", Lat: 1, Lon: 1}); err != nil {
		t.Fatal(err)
	}

	f.r.Handle(ctx, kit.Update{Kind: kit.UpdateLocation, Message: &kit.Message{
		ChatID:   12,
		Location: &kit.Location{Lat: 2, Lon: 3},
	}})

	u, _ := f.store.GetUser(ctx, 12)
	if u.Lat != 2 || u.Name != "Zaid" {
		t.Fatalf("relocation lost data: %+v", u)
	}
	if len(f.reg.registered) != 1 {
		t.Fatal("relocation must re-register the session pair")
	}
}

func TestLocationFromStrangerAsksForStart(t *testing.T) {
	f := newFixture()
	f.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateLocation, Message: &kit.Message{
		ChatID:   13,
		Location: &kit.Location{Lat: 2, Lon: 3},
	}})
	if !strings.Contains(f.ad.lastText(), "/start") {
		t.Fatalf("got %q", f.ad.lastText())
	}
	if len(f.reg.registered) != 0 {
		t.Fatal("stranger must not be registered")
	}
}

func TestGeocodeMiss(t *testing.T) {
	f := newFixture()
	f.geo.err = &provider.Error{Service: "nominatim", Status: 404, Err: errors.New("no results")}
	ctx := context.Background()

	f.r.Handle(ctx, textUpdate(14, "/start"))
	f.r.Handle(ctx, textUpdate(14, "Ali"))
	f.r.Handle(ctx, textUpdate(14, "Atlantis"))

	if !strings.Contains(f.ad.lastText(), "couldn't find") {
		t.Fatalf("got %q", f.ad.lastText())
	}
	// Dialog stays open so the user can retry.
	if d := f.r.getDialog(14); d == nil || d.state != stateAwaitingLocation {
		t.Fatal("dialog should remain in location state")
	}
}

func TestManualCityButton(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.r.Handle(ctx, textUpdate(15, "/start"))
	f.r.Handle(ctx, textUpdate(15, "Noor"))
	f.r.Handle(ctx, textUpdate(15, btnManualCity))
	if !strings.Contains(f.ad.lastText(), "city") {
		t.Fatalf("got %q", f.ad.lastText())
	}
}

func TestBackfillCommand(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.r.Handle(ctx, textUpdate(16, "/qaza asr"))
	if len(f.back.recs) != 1 {
		t.Fatalf("backfill records = %d", len(f.back.recs))
	}
	rec := f.back.recs[0]
	if rec.Prayer != prayer.Asr || rec.Outcome != engine.OutcomeMissed || rec.Source != engine.SourceBackfill {
		t.Fatalf("record = %+v", rec)
	}

	f.r.Handle(ctx, textUpdate(16, "/qaza brunch"))
	if len(f.back.recs) != 1 {
		t.Fatal("invalid prayer must not be recorded")
	}
	if !strings.Contains(f.ad.lastText(), "Usage") {
		t.Fatalf("got %q", f.ad.lastText())
	}
}

func TestCallbackRouting(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", ChatID: 17, FromID: 17,
		Data: tgui.Data(CallbackScope, "prayed", "fajr|2026-08-28"),
	}})
	if len(f.reg.resolved) != 1 || f.reg.resolved[0] != engine.OutcomePrayed {
		t.Fatalf("resolved = %v", f.reg.resolved)
	}

	f.reg.resolveErr = engine.ErrNoPending
	f.r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb2", ChatID: 17, FromID: 17,
		Data: tgui.Data(CallbackScope, "missed", "fajr|2026-08-28"),
	}})
	f.ad.mu.Lock()
	last := f.ad.answers[len(f.ad.answers)-1]
	f.ad.mu.Unlock()
	if !strings.Contains(last, "already") {
		t.Fatalf("expired answer = %q", last)
	}

	// Foreign scopes are acknowledged but ignored.
	f.r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb3", ChatID: 17, Data: "other:thing",
	}})
	if len(f.reg.resolved) != 1 {
		t.Fatal("foreign callback must not resolve")
	}
}

func TestTimesCommand(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.r.Handle(ctx, textUpdate(18, "/times"))
	if !strings.Contains(f.ad.lastText(), "/start") {
		t.Fatalf("got %q", f.ad.lastText())
	}

	_ = f.store.PutSchedule(ctx, 18, "2026-08-28", routerSchedule())
	f.r.Handle(ctx, textUpdate(18, "/times"))
	if !strings.Contains(f.ad.lastText(), "18:20") {
		t.Fatalf("got %q", f.ad.lastText())
	}
}

func TestChannelPromptCallbackData(t *testing.T) {
	ad := &fakeAdapter{}
	ch := NewChannel(ad, logx.Nop())
	ctx := context.Background()

	ref, err := ch.Prompt(ctx, 20, prayer.Maghrib, "2026-08-28")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if ref.IsZero() {
		t.Fatal("empty message ref")
	}

	ad.mu.Lock()
	sent := ad.sent[len(ad.sent)-1]
	ad.mu.Unlock()
	rm, ok := sent.opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok {
		t.Fatalf("markup type %T", sent.opt.ReplyMarkupAdapter)
	}
	if len(rm.InlineKeyboard) != 1 || len(rm.InlineKeyboard[0]) != 2 {
		t.Fatalf("keyboard shape = %v", rm.InlineKeyboard)
	}
	for _, btn := range rm.InlineKeyboard[0] {
		scope, action, payload := tgui.Split(strings.TrimPrefix(btn.Data, "\f"))
		if scope != CallbackScope {
			t.Fatalf("scope = %q", scope)
		}
		if _, ok := engine.ParseOutcome(action); !ok {
			t.Fatalf("action = %q", action)
		}
		if payload != "maghrib|2026-08-28" {
			t.Fatalf("payload = %q", payload)
		}
		if len(btn.Data) > tgui.MaxCallbackDataLen {
			t.Fatalf("callback data too long: %d", len(btn.Data))
		}
	}

	if err := ch.Send(ctx, 20, "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ad.mu.Lock()
	defer ad.mu.Unlock()
	if len(ad.deleted) != 1 {
		t.Fatalf("deleted = %d", len(ad.deleted))
	}
}
