package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.elastic.co/apm"
	"go.uber.org/zap"
)

const (
	conditionClinicalSystem     = "http://terminology.hl7.org/CodeSystem/condition-clinical"
	conditionVerificationSystem = "http://terminology.hl7.org/CodeSystem/condition-ver-status"
	conditionCategorySystem     = "http://terminology.hl7.org/CodeSystem/condition-category"

	// Days covered by a condition range when no start is given
	conditionRangeDays = 28
)

// ConditionLogStore keeps the conditions patients record against their own timeline.
type ConditionLogStore interface {
	SaveCondition(ctx context.Context, condition *Condition, raw []byte) error
	ListPatientConditions(ctx context.Context, patientId string, start, end time.Time) ([]json.RawMessage, error)
}

// ConditionRequest is a condition entered by the patient. Only code.text is
// required. Without an onset the condition starts at RangeStart, the first day
// of the range the patient is looking at.
type ConditionRequest struct {
	PatientId     string          `json:"patientId"`
	Code          CodeableConcept `json:"code"`
	Note          []Annotation    `json:"note"`
	OnsetDateTime string          `json:"onsetDateTime"`
	RangeStart    string          `json:"rangeStart"`
}

type ConditionTracker struct {
	store ConditionLogStore
	now   func() time.Time
}

func NewConditionTracker(store ConditionLogStore) *ConditionTracker {
	return &ConditionTracker{
		store: store,
		now:   time.Now,
	}
}

// Record stores a new problem list Condition for the patient. The condition is
// active and provisional until a clinician reviews it.
func (t *ConditionTracker) Record(ctx context.Context, patientId string, req ConditionRequest) (*Condition, error) {
	span, ctx := apm.StartSpan(ctx, "Record Condition", "ConditionLog")
	defer span.End()

	if patientId == "" {
		return nil, fmt.Errorf("%w: patient is required", errValidation)
	}
	text := strings.TrimSpace(req.Code.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: code.text is required", errValidation)
	}

	now := t.now().UTC()
	onset, _, err := conditionRange(req.RangeStart, "", now)
	if err != nil {
		return nil, err
	}
	if req.OnsetDateTime != "" {
		if onset, err = parseDate(req.OnsetDateTime); err != nil {
			return nil, fmt.Errorf("%w: onsetDateTime: %v", errValidation, err)
		}
	}

	codings := make([]Coding, 0, len(req.Code.Coding))
	for _, coding := range req.Code.Coding {
		if coding.Code == "" && coding.Display == "" {
			continue
		}
		if coding.System == "" {
			coding.System = snomedSystem
		}
		codings = append(codings, coding)
	}

	condition := &Condition{
		ResourceType: "Condition",
		Id:           uuid.NewString(),
		ClinicalStatus: CodeableConcept{
			Coding: []Coding{{System: conditionClinicalSystem, Code: "active", Display: "Active"}},
		},
		VerificationStatus: CodeableConcept{
			Coding: []Coding{{System: conditionVerificationSystem, Code: "provisional", Display: "Provisional"}},
		},
		Category: []CodeableConcept{
			{Coding: []Coding{{System: conditionCategorySystem, Code: "problem-list-item", Display: "Problem List Item"}}},
		},
		Code:          CodeableConcept{Coding: codings, Text: text},
		Note:          req.Note,
		OnsetDateTime: Date{onset.UTC()},
		RecordedDate:  Date{now},
		Subject:       ResourceReference{ResourceType: "Patient", Reference: patientId},
	}

	raw, err := json.Marshal(condition)
	if err != nil {
		return nil, fmt.Errorf("error marshalling condition: %w", err)
	}
	if err := t.store.SaveCondition(ctx, condition, raw); err != nil {
		return nil, fmt.Errorf("error saving condition: %w", err)
	}

	zapLogger.Info("Condition recorded",
		zap.String("id", condition.Id),
		zap.String("patient", patientId),
		zap.Time("onset", onset))

	return condition, nil
}

// List returns the patient's Conditions with an onset between the start and
// end days, both inclusive.
func (t *ConditionTracker) List(ctx context.Context, patientId, start, end string) ([]json.RawMessage, error) {
	if patientId == "" {
		return nil, fmt.Errorf("%w: patient is required", errValidation)
	}

	from, to, err := conditionRange(start, end, t.now().UTC())
	if err != nil {
		return nil, err
	}

	conditions, err := t.store.ListPatientConditions(ctx, patientId, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("error listing conditions for %s: %w", patientId, err)
	}
	return conditions, nil
}

// conditionRange resolves the first and last day of a range. The range ends
// today and starts conditionRangeDays earlier unless told otherwise.
func conditionRange(start, end string, now time.Time) (time.Time, time.Time, error) {
	to := truncateDay(now)
	if end != "" {
		parsed, err := parseDate(end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: end: %v", errValidation, err)
		}
		to = truncateDay(parsed)
	}

	from := to.AddDate(0, 0, -conditionRangeDays)
	if start != "" {
		parsed, err := parseDate(start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: start: %v", errValidation, err)
		}
		from = truncateDay(parsed)
	}

	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start is after end", errValidation)
	}
	return from, to, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
