package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		AppName:                 "symptom-intake",
		Port:                    "0",
		Timeout:                 5,
		DatabasePath:            filepath.Join(t.TempDir(), "api.db"),
		DefaultProtocolId:       defaultProtocolId,
		SearchCacheSize:         16,
		SearchCacheTTL:          time.Minute,
		ConditionLookbackDays:   14,
		ConditionLookbackSplits: 2,
		Conditions:              defaultConditions,
		SymptomNames:            defaultSymptomNames,
	}
}

func newTestServer(t *testing.T, cfg *Config) (*App, *echo.Echo) {
	t.Helper()

	app, err := newApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	return app, newServer(app)
}

// testToken signs a bearer token for the given subject.
func testToken(t *testing.T, sub string) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func doJSON(e *echo.Echo, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHeartbeat(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodGet, "/heartbeat", "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCDSServices(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodGet, "/cds-services", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ServiceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Services, 1)
	assert.Equal(t, "symptom-protocol", resp.Services[0].Id)
	assert.Equal(t, "patient-view", resp.Services[0].Hook)
}

func TestAPI_Match(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodPost, "/api/match", `{"symptomCodes":["102491009","34436003"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail MatchDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "kidney-stone-management", detail.ProtocolId)
	assert.Equal(t, 3, detail.Score)

	rec = doJSON(e, http.MethodPost, "/api/match", `{"symptomCodes":["25064002"],"explain":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result MatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, defaultProtocolId, result.BestMatch.ProtocolId)
	assert.Len(t, result.AllMatches, 3)
	assert.Len(t, result.Reasoning, 2)
}

func TestAPI_MatchBadBody(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodPost, "/api/match", `{"symptomCodes":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Conditions(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodGet, "/api/conditions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Conditions        []ConditionDefinition `json:"conditions"`
		DefaultProtocolId string                `json:"defaultProtocolId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Conditions, 3)
	assert.Equal(t, defaultProtocolId, resp.DefaultProtocolId)
}

func TestAPI_Search(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodPost, "/api/search", `{"query":"headache"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Headache", resp.Results[0].Display)
	assert.Empty(t, resp.Message)

	rec = doJSON(e, http.MethodPost, "/api/search", `{"query":"xyzzy"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
	assert.Equal(t, noSymptomsMessage, resp.Message)
}

func TestAPI_SearchValidation(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	for _, body := range []string{
		`{"query":""}`,
		`{"query":"pain","limit":500}`,
		`{"query":"pain","resourceType":"Patient"}`,
	} {
		rec := doJSON(e, http.MethodPost, "/api/search", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestAPI_AssessmentFlow(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.AuthHost = newAuthServer(t)
	_, e := newTestServer(t, cfg)

	auth := []string{"Authorization", "Bearer " + testToken(t, "pat-42")}

	// Report the issue
	rec := doJSON(e, http.MethodPost, "/api/assessments",
		`{"patientId":"ignored","issueDescription":"pain in my flank","next":"/home"}`, auth...)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created assessmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Assessment.Id
	assert.Equal(t, "pat-42", created.Assessment.PatientId)
	assert.Equal(t, symptomSelectionURL(id, "/home"), created.NextURL)

	// Suggested symptoms come from the issue description
	rec = doJSON(e, http.MethodGet, "/api/assessments/"+id+"/symptoms", "", auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	var suggestions searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &suggestions))
	assert.NotEmpty(t, suggestions.Results)

	// Preview before committing
	rec = doJSON(e, http.MethodPost, "/api/preview", `{"symptomCodes":["102491009"]}`, auth...)
	require.Equal(t, http.StatusOK, rec.Code)

	// Select symptoms
	rec = doJSON(e, http.MethodPost, "/api/assessments/"+id+"/symptoms",
		`{"symptoms":[{"code":"102491009"},{"code":"34436003"}]}`, auth...)
	require.Equal(t, http.StatusOK, rec.Code)

	var selected assessmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &selected))
	assert.Equal(t, "kidney-stone-management", selected.Match.BestMatch.ProtocolId)
	assert.Equal(t, interventionURL(id, "kidney-stone-management", "/home"), selected.NextURL)

	// Read it back
	rec = doJSON(e, http.MethodGet, "/api/assessments/"+id, "", auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	var loaded Assessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &loaded))
	assert.Equal(t, statusCompleted, loaded.Status)
	assert.Equal(t, "Kidney Stones", loaded.MatchedCondition)

	rec = doJSON(e, http.MethodGet, "/api/assessments?patient=pat-42", "", auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []Assessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestAPI_PatientRoutesRequireAuth(t *testing.T) {
	rejected := testToken(t, "pat-42")
	cfg := newTestConfig(t)
	cfg.AuthHost = newAuthServer(t, rejected)
	_, e := newTestServer(t, cfg)

	for _, route := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/assessments", `{"issueDescription":"headache"}`},
		{http.MethodGet, "/api/assessments?patient=pat-42", ""},
		{http.MethodGet, "/api/assessments/a-1", ""},
		{http.MethodPost, "/api/preview", `{"symptomCodes":["102491009"]}`},
		{http.MethodPost, "/api/conditions", `{"patientId":"pat-42","code":{"text":"Sore ribs"}}`},
		{http.MethodGet, "/api/patients/pat-42/conditions", ""},
	} {
		rec := doJSON(e, route.method, route.path, route.body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)

		rec = doJSON(e, route.method, route.path, route.body, "Authorization", "Bearer "+rejected)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}

	// Search and the condition table stay public
	rec := doJSON(e, http.MethodPost, "/api/search", `{"query":"headache"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(e, http.MethodGet, "/api/conditions/kidney-stones", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_IgnoresUnverifiedToken(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "victim-42"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for _, token := range []string{unsigned, testToken(t, "victim-42")} {
		rec := doJSON(e, http.MethodPost, "/api/assessments", `{"patientId":"pat-7","issueDescription":"headache"}`,
			"Authorization", "Bearer "+token)
		require.Equal(t, http.StatusCreated, rec.Code)

		var created assessmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		assert.Equal(t, "pat-7", created.Assessment.PatientId)
	}
}

func TestAPI_ConditionDetail(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodGet, "/api/conditions/kidney-stones", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var condition ConditionDefinition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &condition))
	assert.Equal(t, "Kidney Stones", condition.Name)
	assert.Equal(t, "kidney-stone-management", condition.ProtocolId)
	assert.Contains(t, condition.RequiredSymptoms, "102491009")

	rec = doJSON(e, http.MethodGet, "/api/conditions/gout", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_PatientConditions(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodPost, "/api/conditions",
		`{"patientId":"pat-9","code":{"text":"Sore ribs"},"note":[{"text":"Since the fall"}]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created Condition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Sore ribs", created.Code.Text)
	assert.Equal(t, "Patient", created.Subject.ResourceType)
	assert.Equal(t, "pat-9", created.Subject.Reference)
	assert.False(t, created.OnsetDateTime.IsZero())

	rec = doJSON(e, http.MethodGet, "/api/patients/pat-9/conditions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []Condition
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.Id, listed[0].Id)

	rec = doJSON(e, http.MethodGet, "/api/patients/pat-9/conditions?start=2000-01-01&end=2000-01-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	// The recorded condition is found by the local search
	rec = doJSON(e, http.MethodPost, "/api/search", `{"query":"ribs"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var found searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.NotEmpty(t, found.Results)
	assert.Equal(t, "Sore ribs", found.Results[0].Display)
	assert.Equal(t, "Since the fall", found.Results[0].Description)
}

func TestAPI_PatientConditionErrors(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodPost, "/api/conditions", `{"patientId":"pat-9","code":{"coding":[{"code":"25064002"}]}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/conditions", `{"code":{"text":"Sore ribs"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/conditions", `{"code":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/patients/pat-9/conditions?start=2024-02-01&end=2024-01-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_AssessmentErrors(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodPost, "/api/assessments", `{"issueDescription":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/assessments/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/assessments/unknown/symptoms", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/assessments/unknown/symptoms", `{"symptoms":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/assessments/unknown/symptoms", `{"symptoms":[{"code":""}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/assessments/unknown/symptoms", `{"symptoms":[{"code":"25064002"}]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/assessments?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/preview", `{"symptomCodes":[]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_AnonymousPatient(t *testing.T) {
	_, e := newTestServer(t, newTestConfig(t))

	rec := doJSON(e, http.MethodPost, "/api/assessments", `{"issueDescription":"headache"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created assessmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, anonymousPatient, created.Assessment.PatientId)
}

func TestAPI_WorkflowRoutesNeedStore(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.DatabasePath = ""
	_, e := newTestServer(t, cfg)

	rec := doJSON(e, http.MethodPost, "/api/assessments", `{"issueDescription":"headache"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodGet, "/api/patients/pat-9/conditions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(e, http.MethodPost, "/api/search", `{"query":"headache"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
