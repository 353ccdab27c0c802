package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	logx "qazabot/pkg/logx"
)

const defaultNominatimBaseURL = "https://nominatim.openstreetmap.org"

// Nominatim resolves a city name typed during onboarding to coordinates.
type Nominatim struct {
	baseURL string
	client  *http.Client
	log     logx.Logger
}

type NominatimConfig struct {
	BaseURL string
	Timeout time.Duration
}

func NewNominatim(cfg NominatimConfig, log logx.Logger) *Nominatim {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNominatimBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Nominatim{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     log,
	}
}

// Place is a geocoding hit.
type Place struct {
	DisplayName string
	Lat         float64
	Lon         float64
}

type nominatimHit struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Geocode returns the best match for a free-form city query, or an *Error
// with status 404 when nothing matched.
func (n *Nominatim) Geocode(ctx context.Context, city string) (Place, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("format", "json")
	q.Set("limit", "1")

	u := n.baseURL + "/search?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Place{}, &Error{Service: "nominatim", Err: err}
	}
	// Nominatim's usage policy requires an identifying User-Agent.
	req.Header.Set("User-Agent", "qazabot/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return Place{}, &Error{Service: "nominatim", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Place{}, &Error{
			Service: "nominatim",
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("unexpected status"),
		}
	}

	var hits []nominatimHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return Place{}, &Error{Service: "nominatim", Status: resp.StatusCode, Err: err}
	}
	if len(hits) == 0 {
		return Place{}, &Error{
			Service: "nominatim",
			Status:  http.StatusNotFound,
			Err:     fmt.Errorf("no results for %q", city),
		}
	}

	h := hits[0]
	lat, err := strconv.ParseFloat(h.Lat, 64)
	if err != nil {
		return Place{}, &Error{Service: "nominatim", Status: resp.StatusCode, Err: fmt.Errorf("bad latitude %q", h.Lat)}
	}
	lon, err := strconv.ParseFloat(h.Lon, 64)
	if err != nil {
		return Place{}, &Error{Service: "nominatim", Status: resp.StatusCode, Err: fmt.Errorf("bad longitude %q", h.Lon)}
	}
	return Place{DisplayName: h.DisplayName, Lat: lat, Lon: lon}, nil
}
