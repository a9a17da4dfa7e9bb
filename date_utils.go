package main

import (
	"fmt"
	"net/url"
	"time"
)

const dateFormat = "2006-01-02"

func createTimeWindows(splits int, lookback int) []map[string]string {
	if splits <= 0 {
		splits = 1
	}

	start := time.Now().AddDate(0, 0, -lookback)

	// Gets initial step size
	baseStep := lookback / splits

	// Captures days that need to be distributed for uneven splits
	extraDays := lookback % splits

	windows := []map[string]string{}

	for i := 0; i < splits; i++ {
		// Calculate the step (add extra days to the first few windows)
		step := baseStep
		if i < extraDays {
			step++
		}

		end := start.AddDate(0, 0, step)

		windows = append(windows, map[string]string{
			"start": start.Format(dateFormat),
			"end":   end.Format(dateFormat),
		})

		start = end
	}

	return windows
}

func addDateParam(window map[string]string, paramName string, queryParms *url.Values) {
	var comparator string

	for key, value := range window {
		switch key {
		case "start":
			comparator = "ge"
		case "end":
			comparator = "le"
		}
		queryParms.Add(paramName, comparator+value)
	}
}

func isAfterDay(t1, t2 time.Time) bool {
	y1, m1, d1 := t1.Date()
	y2, m2, d2 := t2.Date()

	// Use the local timezone from t1
	loc := t1.Location()

	// Compare only the year, month, and day in the local timezone
	return time.Date(y1, m1, d1, 0, 0, 0, 0, loc).After(
		time.Date(y2, m2, d2, 0, 0, 0, 0, loc),
	)
}

func parseDate(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		dateFormat,
	}

	var t time.Time
	var err error
	for _, layout := range layouts {
		t, err = time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}
