package weather

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const archiveBody = `{
  "latitude": -12.0,
  "longitude": -77.0,
  "hourly_units": {"time": "iso8601", "temperature_2m": "°C"},
  "hourly": {
    "time": ["2020-01-01T00:00", "2020-01-01T01:00", "2020-01-02T00:00", "2020-01-02T01:00"],
    "temperature_2m": [20.5, null, 18.0, 19.0]
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &Client{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Cache:      cache.NewFileCacheAt[Series](t.TempDir(), 0),
		Retries:    3,
		RetryWait:  time.Millisecond,
	}
}

func day(d int) time.Time {
	return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestFetchHourly(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		q := r.URL.Query()
		assert.Equal(t, "2020-01-01", q.Get("start_date"))
		assert.Equal(t, "2020-01-02", q.Get("end_date"))
		assert.Equal(t, "temperature_2m", q.Get("hourly"))
		assert.Equal(t, "-12.046400", q.Get("latitude"))
		w.Write([]byte(archiveBody))
	})

	series, err := client.FetchHourly(context.Background(), -12.0464, -77.0428, day(1), day(2), "temperature_2m")
	require.NoError(t, err)
	require.Len(t, series.Times, 4)
	assert.Equal(t, time.Date(2020, 1, 2, 1, 0, 0, 0, time.UTC), series.Times[3])
	assert.Equal(t, 20.5, series.Values[0])
	assert.True(t, math.IsNaN(series.Values[1]))

	cached, err := client.FetchHourly(context.Background(), -12.0464, -77.0428, day(1), day(2), "temperature_2m")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, math.IsNaN(cached.Values[1]))
	assert.Equal(t, series.Times, cached.Times)
}

func TestFetchHourlyRetries(t *testing.T) {
	var hits atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(archiveBody))
	})

	series, err := client.FetchHourly(context.Background(), 0, 0, day(1), day(2), "temperature_2m")
	require.NoError(t, err)
	assert.Len(t, series.Values, 4)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchHourlyGivesUp(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.Retries = 2

	_, err := client.FetchHourly(context.Background(), 0, 0, day(1), day(2), "temperature_2m")
	assert.ErrorContains(t, err, "after 2 attempts")
}

func TestFetchHourlyMissingVariable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(archiveBody))
	})
	client.Retries = 1

	_, err := client.FetchHourly(context.Background(), 0, 0, day(1), day(2), "relative_humidity_2m")
	assert.ErrorContains(t, err, `variable "relative_humidity_2m" missing`)
}

func TestToObservations(t *testing.T) {
	series := Series{
		Variable: "temperature_2m",
		Times:    []time.Time{time.Date(2020, 1, 1, 23, 0, 0, 0, time.UTC)},
		Values:   []float64{21},
	}
	obs := ToObservations(series, "A620")
	require.Len(t, obs, 1)
	assert.Equal(t, day(1), obs[0].Date)
	assert.Equal(t, 23, obs[0].Hour)
	assert.Equal(t, 21.0, obs[0].Value)
	assert.Equal(t, "A620", obs[0].Sensor)
}

func TestDailyMeans(t *testing.T) {
	series := Series{
		Variable: "temperature_2m",
		Times: []time.Time{
			time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2020, 1, 1, 1, 0, 0, 0, time.UTC),
			time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC),
		},
		Values: []float64{10, 20, math.NaN(), 5},
	}
	daily := DailyMeans(series)
	assert.Equal(t, []time.Time{day(1), day(2), day(3)}, daily.Times)
	assert.Equal(t, 15.0, daily.Values[0])
	assert.True(t, math.IsNaN(daily.Values[1]))
	assert.Equal(t, 5.0, daily.Values[2])
}
