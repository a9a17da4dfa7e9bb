package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	results []SymptomResult
	err     error
	calls   int
	useAI   bool
}

func (f *fakeSource) SearchSymptoms(ctx context.Context, query string, limit int, useAI bool) ([]SymptomResult, error) {
	f.calls++
	f.useAI = useAI
	return f.results, f.err
}

type fakeConditionSearch struct {
	conditions []StoredCondition
	err        error
	terms      []string
}

func (f *fakeConditionSearch) SearchConditions(ctx context.Context, terms []string, limit int) ([]StoredCondition, error) {
	f.terms = terms
	if f.err != nil {
		return nil, f.err
	}
	if len(f.conditions) > limit {
		return f.conditions[:limit], nil
	}
	return f.conditions, nil
}

func TestSearch_UsesRemoteResults(t *testing.T) {
	remote := &fakeSource{results: []SymptomResult{
		{Id: "r1", Display: "Renal colic", Code: "367004", RelevanceScore: 0.92},
	}}
	searcher := NewSymptomSearcher(remote, nil, 0, 0, true)

	results, err := searcher.Search(context.Background(), SearchRequest{Query: "side pain"})

	require.NoError(t, err)
	assert.Equal(t, remote.results, results)
	assert.True(t, remote.useAI)
}

func TestSearch_RemoteFailureFallsBack(t *testing.T) {
	remote := &fakeSource{err: errors.New("connection refused")}
	searcher := NewSymptomSearcher(remote, nil, 0, 0, false)

	results, err := searcher.Search(context.Background(), SearchRequest{Query: "Flank"})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Flank pain", results[0].Display)
	assert.Equal(t, "102491009", results[0].Code)
	assert.Equal(t, "Condition", results[0].ResourceType)
}

func TestSearch_StoreBeforeCatalog(t *testing.T) {
	store := &fakeConditionSearch{conditions: []StoredCondition{
		{Id: "c1", CodeText: "Chronic back pain", Code: "134407002", System: snomedSystem},
		{Id: "c2", Display: "Back pain", Code: "161891005"},
		{Id: "c3"},
	}}
	searcher := NewSymptomSearcher(nil, store, 0, 0, false)

	results, err := searcher.Search(context.Background(), SearchRequest{Query: "  Back PAIN "})

	require.NoError(t, err)
	assert.Equal(t, []string{"back", "pain"}, store.terms)

	var displays []string
	for _, r := range results {
		displays = append(displays, r.Display)
	}
	// Catalogue duplicates of stored displays are dropped
	assert.Equal(t, []string{"Chronic back pain", "Back pain", unknownConditionDisplay, "Flank pain", "Headache"}, displays)
	assert.Equal(t, 1.0, results[0].RelevanceScore)
}

func TestSearch_Limit(t *testing.T) {
	searcher := NewSymptomSearcher(nil, nil, 0, 0, false)

	results, err := searcher.Search(context.Background(), SearchRequest{Query: "pain", Limit: 2})

	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearch_StoreErrorDegrades(t *testing.T) {
	store := &fakeConditionSearch{err: errors.New("disk I/O error")}
	searcher := NewSymptomSearcher(nil, store, 0, 0, false)

	results, err := searcher.Search(context.Background(), SearchRequest{Query: "dizziness"})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Dizziness", results[0].Display)
}

func TestSearch_NoResults(t *testing.T) {
	searcher := NewSymptomSearcher(nil, nil, 0, 0, false)

	results, err := searcher.Search(context.Background(), SearchRequest{Query: "xyzzy"})

	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_Validation(t *testing.T) {
	searcher := NewSymptomSearcher(nil, nil, 0, 0, false)

	tests := []struct {
		name string
		req  SearchRequest
	}{
		{name: "empty query", req: SearchRequest{Query: ""}},
		{name: "blank query", req: SearchRequest{Query: "   "}},
		{name: "limit too large", req: SearchRequest{Query: "pain", Limit: 101}},
		{name: "negative limit", req: SearchRequest{Query: "pain", Limit: -1}},
		{name: "unsupported resource type", req: SearchRequest{Query: "pain", ResourceType: "Patient"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := searcher.Search(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, errValidation)
		})
	}
}

func TestSearch_AcceptsEveryResourceType(t *testing.T) {
	searcher := NewSymptomSearcher(nil, nil, 0, 0, false)

	for _, resourceType := range []string{"Condition", "Observation", "Procedure"} {
		_, err := searcher.Search(context.Background(), SearchRequest{Query: "pain", ResourceType: resourceType, Limit: 100})
		assert.NoError(t, err, resourceType)
	}
}

func TestSearch_CachesResults(t *testing.T) {
	remote := &fakeSource{results: []SymptomResult{{Id: "r1", Display: "Renal colic"}}}
	searcher := NewSymptomSearcher(remote, nil, 8, time.Minute, false)

	for i := 0; i < 3; i++ {
		_, err := searcher.Search(context.Background(), SearchRequest{Query: "Side pain"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, remote.calls)

	// Different limit is a different entry
	_, err := searcher.Search(context.Background(), SearchRequest{Query: "side pain", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, remote.calls)
}

func TestSearch_DoesNotCacheRemoteFallback(t *testing.T) {
	remote := &fakeSource{err: errors.New("connection refused")}
	searcher := NewSymptomSearcher(remote, nil, 8, time.Minute, false)

	results, err := searcher.Search(context.Background(), SearchRequest{Query: "flank"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "flank-pain", results[0].Id)

	// The backend recovers, the next search must reach it
	remote.err = nil
	remote.results = []SymptomResult{{Id: "r1", Display: "Renal colic"}}

	results, err = searcher.Search(context.Background(), SearchRequest{Query: "flank"})
	require.NoError(t, err)
	assert.Equal(t, remote.results, results)
	assert.Equal(t, 2, remote.calls)

	// Now it is cached
	_, err = searcher.Search(context.Background(), SearchRequest{Query: "flank"})
	require.NoError(t, err)
	assert.Equal(t, 2, remote.calls)
}

func TestSearch_DoesNotCacheStoreFailure(t *testing.T) {
	store := &fakeConditionSearch{err: errors.New("database is locked")}
	searcher := NewSymptomSearcher(nil, store, 8, time.Minute, false)

	_, err := searcher.Search(context.Background(), SearchRequest{Query: "kidney"})
	require.NoError(t, err)

	store.err = nil
	store.conditions = []StoredCondition{{Id: "c1", CodeText: "Kidney stone"}}

	results, err := searcher.Search(context.Background(), SearchRequest{Query: "kidney"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Kidney stone", results[0].Display)
}
