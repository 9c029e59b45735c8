// Package modis downloads MODIS vegetation index granules from the LP DAAC
// archive and extracts their subdatasets as GeoTIFFs.
package modis

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var ErrNoDates = errors.New("no MODIS dates available for the requested range")

const archiveDateLayout = "2006.01.02"

// Interval is a closed date range contained in a single year.
type Interval struct {
	From time.Time
	To   time.Time
}

func asDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SplitDateInterval splits [from, to] into yearly sub-intervals. A first
// interval that starts on Dec 31 and a last one that ends on Jan 1 are
// dropped.
func SplitDateInterval(from, to time.Time) []Interval {
	from, to = asDate(from), asDate(to)
	if from.Year() == to.Year() {
		return []Interval{{From: from, To: to}}
	}
	var intervals []Interval
	for year := from.Year(); year <= to.Year(); year++ {
		jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		dec31 := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
		switch year {
		case from.Year():
			if !dec31.Equal(from) {
				intervals = append(intervals, Interval{From: from, To: dec31})
			}
		case to.Year():
			if !jan1.Equal(to) {
				intervals = append(intervals, Interval{From: jan1, To: to})
			}
		default:
			intervals = append(intervals, Interval{From: jan1, To: dec31})
		}
	}
	return intervals
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DatesForRange returns the archive directory names (YYYY.MM.DD) for the
// days of year in [doyStart, doyEnd). A doyEnd of -1 covers the whole year.
func DatesForRange(year, doyStart, doyEnd int) []string {
	if doyEnd == -1 {
		doyEnd = 366
		if isLeap(year) {
			doyEnd = 367
		}
	}
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	var dates []string
	for doy := max(doyStart, 1); doy < doyEnd; doy++ {
		day := jan1.AddDate(0, 0, doy-1)
		if day.Year() != year {
			break
		}
		dates = append(dates, day.Format(archiveDateLayout))
	}
	return dates
}

// DateFromFilename decodes the AYYYYDOY acquisition field of a granule name
// such as MYD13Q1.A2020353.h10v10.006.2021001225812.hdf.
func DateFromFilename(name string) (time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	fields := strings.Split(base, ".")
	if len(fields) < 2 || len(fields[1]) < 6 || fields[1][0] != 'A' {
		return time.Time{}, fmt.Errorf("invalid MODIS filename %q", name)
	}
	part := fields[1]
	year, err := strconv.Atoi(part[1:5])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid year in MODIS filename %q: %w", name, err)
	}
	doy, err := strconv.Atoi(part[5:])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day of year in MODIS filename %q: %w", name, err)
	}
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1), nil
}

// granuleKey returns the YYYYDOY field of a granule filename, the fifth
// dot separated field counting from the end.
func granuleKey(name string) (string, bool) {
	fields := strings.Split(name, ".")
	if len(fields) < 5 {
		return "", false
	}
	field := fields[len(fields)-5]
	if len(field) < 2 {
		return "", false
	}
	return field[1:], true
}

func archiveDateKey(date string) (string, bool) {
	t, err := time.Parse(archiveDateLayout, date)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%d%03d", t.Year(), t.YearDay()), true
}
