package timeseries

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/sirupsen/logrus"
)

// Observation is one measurement of one sensor at a given date and hour.
type Observation struct {
	Date   time.Time
	Hour   int
	Value  float64
	Sensor string
}

// Columns names the CSV columns holding each Observation field.
type Columns struct {
	Date   string
	Hour   string
	Value  string
	Sensor string
}

func DefaultColumns() Columns {
	return Columns{Date: "date", Hour: "hr", Value: "temp", Sensor: "inme"}
}

func ReadObservationsFile(path string, cols Columns, dateLayout string) ([]Observation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open time series file: %w", err)
	}
	defer file.Close()
	return ReadObservations(file, cols, dateLayout)
}

// ReadObservations reads the four named columns of a CSV, ignoring the
// rest, and returns the rows sorted by date and hour. Empty or unparseable
// values become NaN.
func ReadObservations(r io.Reader, cols Columns, dateLayout string) ([]Observation, error) {
	records, err := gocsv.CSVToMaps(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read time series CSV: %w", err)
	}

	observations := make([]Observation, 0, len(records))
	for i, record := range records {
		for _, col := range []string{cols.Date, cols.Hour, cols.Value, cols.Sensor} {
			if _, ok := record[col]; !ok {
				return nil, fmt.Errorf("column %q not found in time series CSV", col)
			}
		}

		date, err := time.Parse(dateLayout, strings.TrimSpace(record[cols.Date]))
		if err != nil {
			return nil, fmt.Errorf("row %d: failed to parse date: %w", i+1, err)
		}
		hour, err := strconv.Atoi(strings.TrimSpace(record[cols.Hour]))
		if err != nil {
			return nil, fmt.Errorf("row %d: failed to parse hour: %w", i+1, err)
		}

		observations = append(observations, Observation{
			Date:   date,
			Hour:   hour,
			Value:  parseValue(record[cols.Value]),
			Sensor: strings.TrimSpace(record[cols.Sensor]),
		})
	}

	sort.SliceStable(observations, func(i, j int) bool {
		if !observations[i].Date.Equal(observations[j].Date) {
			return observations[i].Date.Before(observations[j].Date)
		}
		return observations[i].Hour < observations[j].Hour
	})

	logrus.Debugf("read time series of %d rows", len(observations))
	return observations, nil
}

func parseValue(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
