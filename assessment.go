package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.elastic.co/apm"
	"go.uber.org/zap"
)

const (
	statusInProgress = "in-progress"
	statusCompleted  = "completed"
	anonymousPatient = "anonymous"

	issueLinkId   = "1"
	symptomLinkId = "2"

	symptomSelectionPath     = "/symptom-selection"
	interventionPath         = "/intervention-execution"
	questionnaireResponseArg = "questionnaire-response"
)

var (
	errNotFound   = errors.New("not found")
	errValidation = errors.New("validation failed")
)

// Assessment is a symptom QuestionnaireResponse together with the state the
// intake workflow carries between steps.
type Assessment struct {
	ResourceType  string              `json:"resourceType"`
	Id            string              `json:"id"`
	Status        string              `json:"status"`
	Questionnaire string              `json:"questionnaire"`
	Subject       Reference           `json:"subject"`
	Authored      time.Time           `json:"authored"`
	Item          []QuestionnaireItem `json:"item"`

	PatientId          string    `json:"patientId"`
	IssueDescription   string    `json:"issueDescription"`
	SelectedSymptoms   []Coding  `json:"selectedSymptoms,omitempty"`
	MatchedCondition   string    `json:"matchedCondition,omitempty"`
	SelectedProtocolId string    `json:"selectedProtocolId,omitempty"`
	MatchExplanation   []string  `json:"matchExplanation,omitempty"`
	Next               string    `json:"next,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type QuestionnaireItem struct {
	LinkId string   `json:"linkId"`
	Text   string   `json:"text,omitempty"`
	Answer []Answer `json:"answer"`
}

type Answer struct {
	ValueString string  `json:"valueString,omitempty"`
	ValueCoding *Coding `json:"valueCoding,omitempty"`
}

// AssessmentStore persists assessments between workflow steps.
type AssessmentStore interface {
	SaveAssessment(ctx context.Context, a *Assessment) error
	GetAssessment(ctx context.Context, id string) (*Assessment, error)
}

// Workflow drives an assessment from issue report to protocol selection.
type Workflow struct {
	store    AssessmentStore
	searcher *SymptomSearcher
	matcher  *ConditionMatcher
}

func NewWorkflow(store AssessmentStore, searcher *SymptomSearcher, matcher *ConditionMatcher) *Workflow {
	return &Workflow{
		store:    store,
		searcher: searcher,
		matcher:  matcher,
	}
}

// item returns the answers recorded for linkId, or nil.
func (a *Assessment) item(linkId string) *QuestionnaireItem {
	for i := range a.Item {
		if a.Item[i].LinkId == linkId {
			return &a.Item[i]
		}
	}
	return nil
}

// issueText is the description captured in the first step.
func (a *Assessment) issueText() string {
	if a.IssueDescription != "" {
		return a.IssueDescription
	}
	if item := a.item(issueLinkId); item != nil {
		for _, answer := range item.Answer {
			if answer.ValueString != "" {
				return answer.ValueString
			}
		}
	}
	return ""
}

func (a *Assessment) symptomCodes() []string {
	codes := make([]string, 0, len(a.SelectedSymptoms))
	for _, symptom := range a.SelectedSymptoms {
		codes = append(codes, symptom.Code)
	}
	return codes
}

func symptomSelectionURL(id, next string) string {
	return navigationURL(symptomSelectionPath, id, "", next)
}

func interventionURL(id, protocolId, next string) string {
	return navigationURL(interventionPath, id, protocolId, next)
}

func navigationURL(path, id, protocolId, next string) string {
	var b strings.Builder
	b.WriteString(path)
	b.WriteString("?" + questionnaireResponseArg + "=" + url.QueryEscape(id))
	if protocolId != "" {
		b.WriteString("&protocol=" + url.QueryEscape(protocolId))
	}
	if next != "" {
		b.WriteString("&next=" + url.QueryEscape(next))
	}
	return b.String()
}

// ReportIssue starts an assessment from the patient's own description of the
// problem and returns it with the URL of the symptom selection step.
func (w *Workflow) ReportIssue(ctx context.Context, patientId, issueDescription, next string) (*Assessment, string, error) {
	issueDescription = strings.TrimSpace(issueDescription)
	if issueDescription == "" {
		return nil, "", fmt.Errorf("%w: issue description is required", errValidation)
	}
	if patientId == "" {
		patientId = anonymousPatient
	}

	now := time.Now().UTC()
	assessment := &Assessment{
		ResourceType:  "QuestionnaireResponse",
		Id:            uuid.NewString(),
		Status:        statusInProgress,
		Questionnaire: questionnaireName,
		Subject: Reference{
			Reference: "Patient/" + patientId,
		},
		Authored: now,
		Item: []QuestionnaireItem{
			{
				LinkId: issueLinkId,
				Text:   "What brings you in today?",
				Answer: []Answer{{ValueString: issueDescription}},
			},
		},
		PatientId:        patientId,
		IssueDescription: issueDescription,
		Next:             next,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := w.store.SaveAssessment(ctx, assessment); err != nil {
		return nil, "", fmt.Errorf("error saving assessment: %w", err)
	}

	return assessment, symptomSelectionURL(assessment.Id, next), nil
}

func (w *Workflow) GetAssessment(ctx context.Context, id string) (*Assessment, error) {
	assessment, err := w.store.GetAssessment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("error loading assessment %s: %w", id, err)
	}
	if assessment == nil {
		return nil, fmt.Errorf("assessment %s: %w", id, errNotFound)
	}
	return assessment, nil
}

// SuggestSymptoms searches for symptoms matching the assessment's issue.
func (w *Workflow) SuggestSymptoms(ctx context.Context, id string) ([]SymptomResult, error) {
	assessment, err := w.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}

	issue := assessment.issueText()
	if issue == "" {
		return []SymptomResult{}, nil
	}

	return w.searcher.Search(ctx, SearchRequest{
		Query:        issue,
		ResourceType: defaultSearchResourceType,
		Limit:        defaultSearchLimit,
	})
}

// PreviewMatch explains the match for a selection still being edited. Nothing
// is selected yet when codes is empty.
func (w *Workflow) PreviewMatch(codes []string) *MatchResult {
	if len(codes) == 0 {
		return nil
	}
	return w.matcher.Explain(codes)
}

// SelectSymptoms records the chosen symptoms, matches them to a protocol and
// completes the assessment. A repeated selection replaces the earlier one.
func (w *Workflow) SelectSymptoms(ctx context.Context, id string, symptoms []Coding) (*Assessment, *MatchResult, string, error) {
	span, ctx := apm.StartSpan(ctx, "Select Symptoms", "Workflow")
	defer span.End()

	if len(symptoms) == 0 {
		return nil, nil, "", fmt.Errorf("%w: at least one symptom is required", errValidation)
	}

	selected := make([]Coding, 0, len(symptoms))
	for _, symptom := range symptoms {
		if symptom.Code == "" {
			return nil, nil, "", fmt.Errorf("%w: symptom code is required", errValidation)
		}
		if symptom.System == "" {
			symptom.System = snomedSystem
		}
		if symptom.Display == "" {
			symptom.Display = w.matcher.SymptomName(symptom.Code)
		}
		selected = append(selected, symptom)
	}
	selected = removeDuplicates(selected, func(c Coding) any {
		return c.System + "|" + c.Code
	})

	assessment, err := w.GetAssessment(ctx, id)
	if err != nil {
		return nil, nil, "", err
	}

	answers := make([]Answer, 0, len(selected))
	for i := range selected {
		coding := selected[i]
		answers = append(answers, Answer{ValueCoding: &coding})
	}

	// Drop an earlier selection before recording this one
	items := make([]QuestionnaireItem, 0, len(assessment.Item)+1)
	for _, item := range assessment.Item {
		if item.LinkId != symptomLinkId {
			items = append(items, item)
		}
	}
	assessment.Item = append(items, QuestionnaireItem{
		LinkId: symptomLinkId,
		Text:   "Which symptoms are you experiencing?",
		Answer: answers,
	})
	assessment.SelectedSymptoms = selected

	result := w.matcher.Explain(assessment.symptomCodes())
	best := result.BestMatch

	assessment.MatchedCondition = best.Condition
	assessment.SelectedProtocolId = best.ProtocolId
	assessment.MatchExplanation = result.Reasoning
	assessment.Status = statusCompleted
	assessment.UpdatedAt = time.Now().UTC()

	if err := w.store.SaveAssessment(ctx, assessment); err != nil {
		return nil, nil, "", fmt.Errorf("error saving assessment: %w", err)
	}

	zapLogger.Info("Assessment completed",
		zap.String("assessment", assessment.Id),
		zap.String("condition", best.Condition),
		zap.String("protocol", best.ProtocolId),
		zap.Int("score", best.Score))

	sendWebLog(structToMap(matchSummary{
		PatientId:    assessment.PatientId,
		Condition:    best.Condition,
		ProtocolId:   best.ProtocolId,
		Score:        best.Score,
		TotalMatched: best.TotalMatched,
	}), "symptom assessment completed")

	return assessment, result, interventionURL(assessment.Id, best.ProtocolId, assessment.Next), nil
}
