package main

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"go.elastic.co/apm"
)

type Condition struct {
	ResourceType       string             `json:"resourceType"`
	Id                 string             `json:"id"`
	ClinicalStatus     CodeableConcept    `json:"clinicalStatus"`
	VerificationStatus CodeableConcept    `json:"verificationStatus"`
	Category           []CodeableConcept  `json:"category"`
	Code               CodeableConcept    `json:"code"`
	Note               []Annotation       `json:"note,omitempty"`
	OnsetDateTime      Date               `json:"onsetDateTime"`
	RecordedDate       Date               `json:"recordedDate"`
	Subject            ResourceReference  `json:"subject"`
	EncounterReference *ResourceReference `json:"encounter,omitempty"`
}

// patientId is the subject's id when the subject is a patient.
func (c *Condition) patientId() string {
	if c.Subject.ResourceType != "" && c.Subject.ResourceType != "Patient" {
		return ""
	}
	return c.Subject.Reference
}

// Condition categories pulled for a patient
var conditionCategories = []string{
	"problem-list-item",
	"encounter-diagnosis",
}

func (c *Condition) isActive() bool {
	if strings.EqualFold(c.ClinicalStatus.Text, "active") {
		return true
	}
	for _, coding := range c.ClinicalStatus.Coding {
		if strings.EqualFold(coding.Code, "active") {
			return true
		}
	}
	return false
}

func (c *Condition) snomedCodes() []string {
	var codes []string
	for _, coding := range c.Code.Coding {
		if coding.System == snomedSystem && coding.Code != "" {
			codes = append(codes, coding.Code)
		}
	}
	return codes
}

func (pr *ProtocolRequest) getConditions(wg *sync.WaitGroup, errCh chan<- error, category string, headers map[string]string) {
	defer wg.Done()

	span, _ := apm.StartSpan(pr.Context.RequestContext, "Get and Parse Data", "Conditions "+category)
	defer span.End()

	queryParams := url.Values{}
	queryParams.Add("patient", pr.Context.PatientId)
	queryParams.Add("category", category)

	// Split the lookback so large histories come back in parallel pages
	requestList := splitRequest(pr.Host+"/Condition", "recorded-date", pr.Splits, pr.Lookback, queryParams, headers)

	if err := pr.sendAndProcess(requestList, headers); err != nil {
		errCh <- err
		return
	}

	errCh <- nil
}

// processConditions drops inactive and out-of-window conditions and
// deduplicates what the windows returned twice.
func (pr *ProtocolRequest) processConditions() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	lookbackDate := time.Now().AddDate(0, 0, -pr.Lookback-1)

	pr.Data.Conditions = removeDuplicates(pr.Data.Conditions, func(c *Condition) any {
		return c.Id
	})

	// Create a filtered slice based on the existing slice, re-using memory
	filtered := pr.Data.Conditions[:0]
	for _, condition := range pr.Data.Conditions {
		if !condition.isActive() {
			continue
		}
		if !condition.RecordedDate.IsZero() && !isAfterDay(condition.RecordedDate.Time, lookbackDate) {
			continue
		}
		filtered = append(filtered, condition)
	}

	pr.Data.Conditions = filtered
}

func (pr *ProtocolRequest) symptomCodes() []string {
	var codes []string
	for _, condition := range pr.Data.Conditions {
		codes = append(codes, condition.snomedCodes()...)
	}
	return removeDuplicates(codes, func(code string) any {
		return code
	})
}
