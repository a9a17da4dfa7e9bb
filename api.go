package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const noSymptomsMessage = "No symptoms found"

// App carries the long lived components shared by the HTTP, CLI and MCP entry points.
type App struct {
	config   *Config
	matcher  *ConditionMatcher
	searcher *SymptomSearcher
	workflow *Workflow
	tracker  *ConditionTracker
	store    Store
	remote   *MCPClient
	mcp      *mcp.Server
}

type MatchRequest struct {
	SymptomCodes []string `json:"symptomCodes"`
	Explain      bool     `json:"explain"`
}

type IssueRequest struct {
	PatientId        string `json:"patientId"`
	IssueDescription string `json:"issueDescription" validate:"required"`
	Next             string `json:"next"`
}

type SymptomSelection struct {
	Code    string `json:"code" validate:"required"`
	System  string `json:"system"`
	Display string `json:"display"`
}

type SelectRequest struct {
	Symptoms []SymptomSelection `json:"symptoms" validate:"required,min=1,dive"`
}

type searchResponse struct {
	Results []SymptomResult `json:"results"`
	Message string          `json:"message,omitempty"`
}

type assessmentResponse struct {
	Assessment *Assessment  `json:"assessment"`
	Match      *MatchResult `json:"match,omitempty"`
	NextURL    string       `json:"nextUrl,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// requestValidator plugs go-playground/validator into echo's Context.Validate.
type requestValidator struct {
	validator *validator.Validate
}

func (rv *requestValidator) Validate(i interface{}) error {
	if err := rv.validator.Struct(i); err != nil {
		return fmt.Errorf("%w: %v", errValidation, err)
	}
	return nil
}

func newApp(cfg *Config) (*App, error) {
	app := &App{
		config:  cfg,
		matcher: NewConditionMatcher(cfg.Conditions, cfg.SymptomNames, cfg.DefaultProtocolId),
	}

	var conditionSearch ConditionSearcher
	if cfg.DatabasePath != "" {
		store, err := NewSQLiteStore(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		app.store = store
		conditionSearch = store
	}

	var remote SymptomSource
	if cfg.MCPEnabled {
		app.remote = NewMCPClient(cfg.MCPURL, cfg.MCPTransport, cfg.Timeout, cfg.SearchRateLimit, cfg.SearchRateBurst)
		remote = app.remote
	}

	app.searcher = NewSymptomSearcher(remote, conditionSearch, cfg.SearchCacheSize, cfg.SearchCacheTTL, cfg.OpenAIAPIKey != "")
	if app.store != nil {
		app.workflow = NewWorkflow(app.store, app.searcher, app.matcher)
		app.tracker = NewConditionTracker(app.store)
	}
	app.mcp = newMCPServer(app.matcher, app.searcher)

	zapLogger.Info("Application initialised",
		zap.Int("conditions", len(cfg.Conditions)),
		zap.Bool("mcpSearch", cfg.MCPEnabled),
		zap.String("database", cfg.DatabasePath))

	return app, nil
}

func (a *App) Close() error {
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			zapLogger.Warn("Error closing MCP session", zap.Error(err))
		}
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// respondError maps workflow errors onto HTTP statuses.
func respondError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, errValidation):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		logger(c.Request().Context(), err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// requestPatient prefers the subject of the token openId verified over the
// body. Without AUTH_HOST no token is verified and the header is ignored.
func requestPatient(c echo.Context, fallback string) string {
	if token, ok := c.Get("user").(*jwt.Token); ok {
		if sub, err := getSubject(token); err == nil && sub != "" {
			return sub
		}
	}
	if fallback != "" {
		return fallback
	}
	return anonymousPatient
}

func (a *App) searchSymptoms(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, fmt.Errorf("%w: %v", errValidation, err))
	}

	results, err := a.searcher.Search(c.Request().Context(), req)
	if err != nil {
		return respondError(c, err)
	}

	resp := searchResponse{Results: results}
	if len(results) == 0 {
		resp.Message = noSymptomsMessage
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *App) matchCondition(c echo.Context) error {
	var req MatchRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, fmt.Errorf("%w: %v", errValidation, err))
	}

	if req.Explain {
		return c.JSON(http.StatusOK, a.matcher.Explain(req.SymptomCodes))
	}
	return c.JSON(http.StatusOK, a.matcher.Match(req.SymptomCodes))
}

func (a *App) previewMatch(c echo.Context) error {
	var req MatchRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, fmt.Errorf("%w: %v", errValidation, err))
	}

	result := a.workflow.PreviewMatch(req.SymptomCodes)
	if result == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, result)
}

func (a *App) listConditions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"conditions":        a.matcher.Conditions(),
		"defaultProtocolId": a.matcher.DefaultProtocol(),
	})
}

func (a *App) getCondition(c echo.Context) error {
	condition, ok := a.matcher.Condition(c.Param("key"))
	if !ok {
		return respondError(c, fmt.Errorf("condition %s: %w", c.Param("key"), errNotFound))
	}
	return c.JSON(http.StatusOK, condition)
}

func (a *App) reportIssue(c echo.Context) error {
	var req IssueRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, fmt.Errorf("%w: %v", errValidation, err))
	}
	if err := c.Validate(&req); err != nil {
		return respondError(c, err)
	}

	patientId := requestPatient(c, req.PatientId)

	assessment, nextURL, err := a.workflow.ReportIssue(c.Request().Context(), patientId, req.IssueDescription, req.Next)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, assessmentResponse{
		Assessment: assessment,
		NextURL:    nextURL,
	})
}

func (a *App) listAssessments(c echo.Context) error {
	limit := defaultSearchLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			return respondError(c, fmt.Errorf("%w: limit must be between 1 and 100", errValidation))
		}
		limit = parsed
	}

	assessments, err := a.store.ListAssessments(c.Request().Context(), c.QueryParam("patient"), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, assessments)
}

func (a *App) getAssessment(c echo.Context) error {
	assessment, err := a.workflow.GetAssessment(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, assessment)
}

func (a *App) suggestSymptoms(c echo.Context) error {
	results, err := a.workflow.SuggestSymptoms(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	resp := searchResponse{Results: results}
	if len(results) == 0 {
		resp.Message = noSymptomsMessage
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *App) selectSymptoms(c echo.Context) error {
	var req SelectRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, fmt.Errorf("%w: %v", errValidation, err))
	}
	if err := c.Validate(&req); err != nil {
		return respondError(c, err)
	}

	symptoms := make([]Coding, 0, len(req.Symptoms))
	for _, s := range req.Symptoms {
		symptoms = append(symptoms, Coding{
			System:  s.System,
			Code:    s.Code,
			Display: s.Display,
		})
	}

	assessment, result, nextURL, err := a.workflow.SelectSymptoms(c.Request().Context(), c.Param("id"), symptoms)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, assessmentResponse{
		Assessment: assessment,
		Match:      result,
		NextURL:    nextURL,
	})
}

func (a *App) recordCondition(c echo.Context) error {
	var req ConditionRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, fmt.Errorf("%w: %v", errValidation, err))
	}

	patientId := requestPatient(c, req.PatientId)
	if patientId == anonymousPatient {
		return respondError(c, fmt.Errorf("%w: patientId is required", errValidation))
	}

	condition, err := a.tracker.Record(c.Request().Context(), patientId, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, condition)
}

func (a *App) listPatientConditions(c echo.Context) error {
	conditions, err := a.tracker.List(c.Request().Context(), c.Param("id"), c.QueryParam("start"), c.QueryParam("end"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, conditions)
}
