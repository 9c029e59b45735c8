// Package weather fetches historical station-like series from the
// Open-Meteo archive.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/cache"
	"github.com/dymaxionlabs/satlomas/internal/timeseries"
	"github.com/sirupsen/logrus"
)

const (
	DefaultArchiveURL = "https://archive-api.open-meteo.com/v1/archive"
	hourLayout        = "2006-01-02T15:04"
)

// Series is an hourly series of one variable. Missing values are NaN.
type Series struct {
	Variable string      `json:"variable"`
	Times    []time.Time `json:"times"`
	Values   []float64   `json:"values"`
}

// MarshalJSON stores NaN as null.
func (s Series) MarshalJSON() ([]byte, error) {
	values := make([]*float64, len(s.Values))
	for i, v := range s.Values {
		if !math.IsNaN(v) {
			values[i] = &v
		}
	}
	return json.Marshal(struct {
		Variable string      `json:"variable"`
		Times    []time.Time `json:"times"`
		Values   []*float64  `json:"values"`
	}{s.Variable, s.Times, values})
}

func (s *Series) UnmarshalJSON(data []byte) error {
	var raw struct {
		Variable string      `json:"variable"`
		Times    []time.Time `json:"times"`
		Values   []*float64  `json:"values"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Variable, s.Times = raw.Variable, raw.Times
	s.Values = nullsToNaN(raw.Values)
	return nil
}

func nullsToNaN(values []*float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Cache      cache.CacheService[Series]
	Retries    int
	RetryWait  time.Duration
}

func NewClient() *Client {
	return &Client{
		BaseURL:    DefaultArchiveURL,
		HTTPClient: &http.Client{Timeout: time.Minute},
		Cache:      cache.NewFileCache[Series]("weather", 0),
		Retries:    3,
		RetryWait:  10 * time.Second,
	}
}

type archiveResponse struct {
	Hourly map[string]json.RawMessage `json:"hourly"`
}

// FetchHourly returns the hourly values of variable (for example
// temperature_2m) at a location for the days between from and to,
// inclusive.
func (c *Client) FetchHourly(ctx context.Context, latitude, longitude float64, from, to time.Time, variable string) (Series, error) {
	start, end := from.Format(time.DateOnly), to.Format(time.DateOnly)
	var key string
	if c.Cache != nil {
		key = c.Cache.GenerateKey(latitude, longitude, start, end, variable)
		if cached, ok := c.Cache.Get(key); ok {
			logrus.Debugf("weather cache hit for %s", key)
			return cached, nil
		}
	}

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(latitude, 'f', 6, 64))
	params.Set("longitude", strconv.FormatFloat(longitude, 'f', 6, 64))
	params.Set("start_date", start)
	params.Set("end_date", end)
	params.Set("hourly", variable)
	params.Set("timezone", "UTC")

	retries := max(c.Retries, 1)
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		series, err := c.fetch(ctx, c.BaseURL+"?"+params.Encode(), variable)
		if err == nil {
			if c.Cache != nil {
				if err := c.Cache.Set(key, series); err != nil {
					logrus.Warnf("failed to cache weather series: %v", err)
				}
			}
			return series, nil
		}
		lastErr = err
		logrus.Warnf("Failed to retrieve data: %v. Retrying... (%d/%d)", err, attempt, retries)
		if attempt < retries {
			select {
			case <-ctx.Done():
				return Series{}, ctx.Err()
			case <-time.After(c.RetryWait):
			}
		}
	}
	return Series{}, fmt.Errorf("failed to retrieve data after %d attempts: %w", retries, lastErr)
}

func (c *Client) fetch(ctx context.Context, u, variable string) (Series, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Series{}, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Series{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Series{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body archiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Series{}, fmt.Errorf("failed to parse response: %w", err)
	}
	var times []string
	if err := json.Unmarshal(body.Hourly["time"], &times); err != nil {
		return Series{}, fmt.Errorf("failed to parse hourly times: %w", err)
	}
	rawValues, ok := body.Hourly[variable]
	if !ok {
		return Series{}, fmt.Errorf("variable %q missing from response", variable)
	}
	var values []*float64
	if err := json.Unmarshal(rawValues, &values); err != nil {
		return Series{}, fmt.Errorf("failed to parse %s values: %w", variable, err)
	}
	if len(values) != len(times) {
		return Series{}, fmt.Errorf("got %d times and %d values", len(times), len(values))
	}

	series := Series{Variable: variable, Times: make([]time.Time, len(times)), Values: nullsToNaN(values)}
	for i, t := range times {
		parsed, err := time.Parse(hourLayout, t)
		if err != nil {
			return Series{}, fmt.Errorf("failed to parse date: %w", err)
		}
		series.Times[i] = parsed
	}
	return series, nil
}

// ToObservations turns the series into rows of sensor.
func ToObservations(s Series, sensor string) []timeseries.Observation {
	obs := make([]timeseries.Observation, len(s.Times))
	for i, t := range s.Times {
		obs[i] = timeseries.Observation{
			Date:   time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
			Hour:   t.Hour(),
			Value:  s.Values[i],
			Sensor: sensor,
		}
	}
	return obs
}

// DailyMeans averages the valid values of each day. Days without any valid
// value are NaN.
func DailyMeans(s Series) Series {
	daily := Series{Variable: s.Variable}
	var sum float64
	var n int
	flush := func() {
		if n == 0 {
			daily.Values = append(daily.Values, math.NaN())
		} else {
			daily.Values = append(daily.Values, sum/float64(n))
		}
		sum, n = 0, 0
	}
	for i, t := range s.Times {
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		if len(daily.Times) == 0 || !daily.Times[len(daily.Times)-1].Equal(day) {
			if len(daily.Times) > 0 {
				flush()
			}
			daily.Times = append(daily.Times, day)
		}
		if !math.IsNaN(s.Values[i]) {
			sum += s.Values[i]
			n++
		}
	}
	if len(daily.Times) > 0 {
		flush()
	}
	return daily
}
