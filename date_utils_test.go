package main

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTimeWindows(t *testing.T) {
	windows := createTimeWindows(3, 14)

	require.Len(t, windows, 3)
	assert.Equal(t, time.Now().AddDate(0, 0, -14).Format(dateFormat), windows[0]["start"])
	assert.Equal(t, time.Now().Format(dateFormat), windows[2]["end"])

	// Windows are contiguous and the extra days go to the first ones
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1]["end"], windows[i]["start"])
	}
	first, err := time.Parse(dateFormat, windows[0]["start"])
	require.NoError(t, err)
	firstEnd, err := time.Parse(dateFormat, windows[0]["end"])
	require.NoError(t, err)
	assert.Equal(t, 5*24*time.Hour, firstEnd.Sub(first))
}

func TestCreateTimeWindows_NoSplits(t *testing.T) {
	assert.Len(t, createTimeWindows(0, 14), 1)
}

func TestAddDateParam(t *testing.T) {
	params := url.Values{}

	addDateParam(map[string]string{"start": "2024-01-01", "end": "2024-01-15"}, "recorded-date", &params)

	assert.ElementsMatch(t, []string{"ge2024-01-01", "le2024-01-15"}, params["recorded-date"])
}

func TestSplitRequest(t *testing.T) {
	params := url.Values{"patient": {"pat-1"}}

	requests := splitRequest("http://fhir.example/Condition", "recorded-date", 2, 10, params, nil)

	require.Len(t, requests, 2)
	for _, r := range requests {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "pat-1", r.QueryParams.Get("patient"))
		assert.Len(t, r.QueryParams["recorded-date"], 2)
	}
	// The caller's parameters are not modified
	assert.Empty(t, params["recorded-date"])
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2024-03-01", "2024-03-01T10:00:00", "2024-03-01T10:00:00Z", "2024-03-01T10:00:00-05:00"} {
		parsed, err := parseDate(s)
		require.NoError(t, err, s)
		assert.Equal(t, 2024, parsed.Year())
	}

	_, err := parseDate("March 1st")
	assert.Error(t, err)
}

func TestIsAfterDay(t *testing.T) {
	day := time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)

	assert.True(t, isAfterDay(day, time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)))
	assert.False(t, isAfterDay(day, time.Date(2024, 3, 2, 23, 0, 0, 0, time.UTC)))
}
