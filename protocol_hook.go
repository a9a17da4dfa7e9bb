package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"go.elastic.co/apm"
)

type ProtocolRequest struct {
	Host     string
	Context  CDSContext
	Headers  map[string]string
	Lookback int
	Splits   int
	mu       sync.Mutex
	Data     *Data
	Match    *MatchResult
}

type CDSContext struct {
	RequestContext context.Context
	PatientId      string
	EncounterId    string
	User           string
	Body           string
}

type Data struct {
	Conditions []*Condition
}

// matchSummary is the web log view of a protocol decision
type matchSummary struct {
	PatientId    string
	Condition    string
	ProtocolId   string
	Score        int
	TotalMatched int
}

func (a *App) symptomProtocol(c echo.Context) error {

	r := c.Request()
	ctx := r.Context()

	hookRequest, err := parseCDSHooksRequest(r.Body)
	if err != nil {
		logger(ctx, err)
		return c.NoContent(http.StatusBadRequest)
	}

	headers := map[string]string{
		"Authorization":   "Bearer " + hookRequest.FHIRAuthorization.AccessToken,
		"Accept":          "application/json",
		"Accept-Encoding": "gzip",
		"Content-Type":    "application/json",
	}

	// Remove access token from the request to avoid storing this in the logs
	hookRequest.FHIRAuthorization.AccessToken = ""

	hookRequestBytes, err := json.Marshal(hookRequest)
	if err != nil {
		// Log an error if this fails, but continue to process request
		logger(ctx, fmt.Errorf("failed to marshal hooks message: %v", err))
	}

	pr := ProtocolRequest{
		Data: &Data{},
		Context: CDSContext{
			RequestContext: ctx,
			PatientId:      hookRequest.Context.PatientId,
			EncounterId:    hookRequest.Context.EncounterId,
			User:           hookRequest.Context.UserId,
			Body:           string(hookRequestBytes),
		},
		Headers:  headers,
		Host:     strings.TrimRight(hookRequest.FHIRServer, "/"),
		Lookback: a.config.ConditionLookbackDays,
		Splits:   a.config.ConditionLookbackSplits,
	}

	if pr.Context.PatientId == "" || pr.Host == "" {
		logger(ctx, fmt.Errorf("hook request missing patient or FHIR server (context: %s)", pr.Context.Body))
		return c.NoContent(http.StatusBadRequest)
	}

	// Reporting of errors is handled in the individual functions so no further reporting done here.
	if err := pr.getData(headers); err != nil {
		return c.NoContent(http.StatusInternalServerError)
	}

	codes := pr.symptomCodes()
	pr.Match = a.matcher.Explain(codes)

	hook := Hook{
		Cards:         []Card{},
		SystemActions: []SystemActions{},
	}

	best := pr.Match.BestMatch
	sendWebLog(structToMap(matchSummary{
		PatientId:    pr.Context.PatientId,
		Condition:    best.Condition,
		ProtocolId:   best.ProtocolId,
		Score:        best.Score,
		TotalMatched: best.TotalMatched,
	}), "cds symptom protocol evaluated with "+strconv.Itoa(len(codes))+" symptom code(s)")

	// Only a recognised pattern is worth interrupting the clinician for
	if best.Score > 0 {
		detail, err := generateCardDetail(pr.Match, codes)
		if err != nil {
			logger(ctx, fmt.Errorf("%v (patient: %s)", err, pr.Context.PatientId))
			return c.NoContent(http.StatusInternalServerError)
		}

		hook.addCard(best, detail)
		hook.addProtocolSuggestion(0, pr.Context.PatientId, best)
	}

	return c.JSON(http.StatusOK, hook)
}

func (pr *ProtocolRequest) getData(headers map[string]string) error {
	span, _ := apm.StartSpan(pr.Context.RequestContext, "Get and Parse Data", "Combined")
	defer span.End()

	var wg sync.WaitGroup
	wg.Add(len(conditionCategories))

	errCh := make(chan error, len(conditionCategories))

	for _, category := range conditionCategories {
		go pr.getConditions(&wg, errCh, category, headers)
	}

	// Wait for data before proceeding and close error channel
	go func() {
		wg.Wait()
		close(errCh)
	}()

	// Drain every result so no sender is left blocked, keeping the first error
	var firstErr error
	for err := range errCh {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}

	pr.processConditions()

	return nil
}
