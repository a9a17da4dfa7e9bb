package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.elastic.co/apm"
	"go.uber.org/zap"
)

const (
	defaultSearchLimit        = 20
	defaultSearchResourceType = "Condition"
	unknownConditionDisplay   = "Unknown condition"
)

type SearchRequest struct {
	Query        string `json:"query" validate:"required,min=1"`
	ResourceType string `json:"resourceType" validate:"omitempty,oneof=Condition Observation Procedure"`
	Limit        int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

type SymptomResult struct {
	Id             string  `json:"id"`
	ResourceType   string  `json:"resourceType"`
	Display        string  `json:"display"`
	Code           string  `json:"code,omitempty"`
	System         string  `json:"system,omitempty"`
	Description    string  `json:"description,omitempty"`
	RelevanceScore float64 `json:"relevanceScore,omitempty"`
}

// SymptomSource is a remote search backend, normally the MCP symptom tool.
type SymptomSource interface {
	SearchSymptoms(ctx context.Context, query string, limit int, useAI bool) ([]SymptomResult, error)
}

// ConditionSearcher finds stored Condition records mentioning any of the terms.
type ConditionSearcher interface {
	SearchConditions(ctx context.Context, terms []string, limit int) ([]StoredCondition, error)
}

// SymptomSearcher resolves free text to candidate symptoms. Remote failures and
// store failures are logged and degrade to the built-in catalogue, so Search
// only errors on an invalid request.
type SymptomSearcher struct {
	remote   SymptomSource
	store    ConditionSearcher
	cache    *expirable.LRU[string, []SymptomResult]
	catalog  []SymptomResult
	useAI    bool
	validate *validator.Validate
}

func NewSymptomSearcher(remote SymptomSource, store ConditionSearcher, cacheSize int, cacheTTL time.Duration, useAI bool) *SymptomSearcher {
	s := &SymptomSearcher{
		remote:   remote,
		store:    store,
		catalog:  symptomCatalog,
		useAI:    useAI,
		validate: validator.New(),
	}
	if cacheSize > 0 {
		s.cache = expirable.NewLRU[string, []SymptomResult](cacheSize, nil, cacheTTL)
	}
	return s
}

// normalize fills in request defaults and validates the result.
func (s *SymptomSearcher) normalize(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.ResourceType == "" {
		req.ResourceType = defaultSearchResourceType
	}
	if req.Limit == 0 {
		req.Limit = defaultSearchLimit
	}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errValidation, err)
	}
	return nil
}

func (s *SymptomSearcher) Search(ctx context.Context, req SearchRequest) ([]SymptomResult, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}

	key := req.ResourceType + "|" + strconv.Itoa(req.Limit) + "|" + strings.ToLower(req.Query)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return cached, nil
		}
	}

	span, ctx := apm.StartSpan(ctx, "Symptom Search", "Search")
	defer span.End()

	results, degraded := s.search(ctx, req)

	// A degraded answer is only good for this request
	if s.cache != nil && !degraded {
		s.cache.Add(key, results)
	}
	return results, nil
}

// search reports whether a source failed and the results were assembled
// from what was left.
func (s *SymptomSearcher) search(ctx context.Context, req SearchRequest) ([]SymptomResult, bool) {
	degraded := false

	// Delegate to the remote backend first
	if s.remote != nil {
		results, err := s.remote.SearchSymptoms(ctx, req.Query, req.Limit, s.useAI)
		if err == nil {
			return results, false
		}
		zapLogger.Warn("MCP symptom search failed, falling back to local search",
			zap.String("query", req.Query),
			zap.Error(err))
		degraded = true
	}

	terms := strings.Fields(strings.ToLower(req.Query))

	var results []SymptomResult
	if s.store != nil {
		stored, err := s.store.SearchConditions(ctx, terms, req.Limit)
		if err != nil {
			logger(ctx, fmt.Errorf("condition search failed: %w", err))
			degraded = true
		}
		for _, condition := range stored {
			results = append(results, condition.symptomResult())
		}
	}

	results = append(results, s.catalogMatches(terms)...)

	results = removeDuplicates(results, func(r SymptomResult) any {
		return r.Display
	})
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	if results == nil {
		results = []SymptomResult{}
	}
	return results, degraded
}

func (s *SymptomSearcher) catalogMatches(terms []string) []SymptomResult {
	var matches []SymptomResult
	for _, symptom := range s.catalog {
		text := strings.ToLower(symptom.Display + " " + symptom.Description)
		for _, term := range terms {
			if strings.Contains(text, term) {
				match := symptom
				match.ResourceType = defaultSearchResourceType
				matches = append(matches, match)
				break
			}
		}
	}
	return matches
}

func (c StoredCondition) symptomResult() SymptomResult {
	display := c.CodeText
	if display == "" {
		display = c.Display
	}
	if display == "" {
		display = unknownConditionDisplay
	}
	return SymptomResult{
		Id:             c.Id,
		ResourceType:   defaultSearchResourceType,
		Display:        display,
		Code:           c.Code,
		System:         c.System,
		Description:    c.NoteText,
		RelevanceScore: 1.0,
	}
}
