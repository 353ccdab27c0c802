package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"qazabot/internal/prayer"
	logx "qazabot/pkg/logx"
)

const (
	defaultAlAdhanBaseURL = "https://api.aladhan.com"

	// Calculation defaults: method 2 (ISNA), school 1 (Hanafi asr).
	defaultMethod = 2
	defaultSchool = 1
)

// AlAdhan fetches daily prayer timings for a coordinate pair.
type AlAdhan struct {
	baseURL string
	method  int
	school  int
	client  *http.Client
	log     logx.Logger
}

type AlAdhanConfig struct {
	BaseURL string
	Method  int
	School  int
	Timeout time.Duration
}

func NewAlAdhan(cfg AlAdhanConfig, log logx.Logger) *AlAdhan {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAlAdhanBaseURL
	}
	if cfg.Method <= 0 {
		cfg.Method = defaultMethod
	}
	if cfg.School < 0 || cfg.School > 1 {
		cfg.School = defaultSchool
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &AlAdhan{
		baseURL: cfg.BaseURL,
		method:  cfg.Method,
		school:  cfg.School,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

// scheduleKey maps an AlAdhan timing name to a schedule entry. Sunrise is
// kept alongside the five prayers because it marks fajr's deadline.
func scheduleKey(name string) (prayer.Prayer, bool) {
	if p, ok := prayer.Parse(name); ok {
		return p, true
	}
	if strings.EqualFold(strings.TrimSpace(name), string(prayer.Sunrise)) {
		return prayer.Sunrise, true
	}
	return "", false
}

// timingsResponse mirrors the subset of the AlAdhan /v1/timings payload we use.
type timingsResponse struct {
	Code int `json:"code"`
	Data struct {
		Timings map[string]string `json:"timings"`
		Meta    struct {
			Timezone string `json:"timezone"`
		} `json:"meta"`
	} `json:"data"`
}

// Timings fetches today's schedule for the given coordinates. Times in the
// returned schedule are "HH:MM" strings in the schedule's own timezone.
func (a *AlAdhan) Timings(ctx context.Context, lat, lon float64) (prayer.Schedule, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 6, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 6, 64))
	q.Set("method", strconv.Itoa(a.method))
	q.Set("school", strconv.Itoa(a.school))

	u := a.baseURL + "/v1/timings?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return prayer.Schedule{}, &Error{Service: "aladhan", Err: err}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return prayer.Schedule{}, &Error{Service: "aladhan", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return prayer.Schedule{}, &Error{
			Service: "aladhan",
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("unexpected status"),
		}
	}

	var body timingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return prayer.Schedule{}, &Error{Service: "aladhan", Status: resp.StatusCode, Err: err}
	}
	if body.Code != 200 {
		return prayer.Schedule{}, &Error{
			Service: "aladhan",
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("api code %d", body.Code),
		}
	}

	sched := prayer.Schedule{
		Times:    make(map[prayer.Prayer]string, 6),
		Timezone: body.Data.Meta.Timezone,
	}
	for name, raw := range body.Data.Timings {
		p, ok := scheduleKey(name)
		if !ok {
			continue
		}
		if _, _, err := prayer.ParseHHMM(raw); err != nil {
			a.log.Warn("skipping unparseable timing",
				logx.String("prayer", string(p)), logx.String("raw", raw))
			continue
		}
		sched.Times[p] = raw
	}

	if err := sched.Validate(); err != nil {
		return prayer.Schedule{}, &Error{Service: "aladhan", Status: resp.StatusCode, Err: err}
	}
	return sched, nil
}
