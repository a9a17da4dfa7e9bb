package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	snomedSystem      = "http://snomed.info/sct"
	protocolSystem    = "http://honeycomb.ai/intervention-protocols"
	questionnaireName = "Questionnaire/symptom-assessment"
)

/**************************
 ****** CDS Services ******
 **************************/
type ServiceResponse struct {
	Services []Service `json:"services"`
}

type Service struct {
	Hook              string            `json:"hook"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Id                string            `json:"id"`
	Prefetch          map[string]string `json:"prefetch"`
	UsageRequirements string            `json:"usageRequirements,omitempty"`
}

/**************************
 ****** Hook Message ******
 **************************/
type HookRequest struct {
	Hook              string `json:"hook"`
	HookInstance      string `json:"hookInstance"`
	FHIRServer        string `json:"fhirServer"`
	FHIRAuthorization struct {
		AccessToken string `json:"access_token"`
	} `json:"fhirAuthorization"`
	Context struct {
		PatientId   string `json:"patientId"`
		EncounterId string `json:"encounterId"`
		UserId      string `json:"userId"`
	} `json:"context"`
}

/****************************************
 ****** Hook Response - Foundation ******
 ****************************************/

type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

type Coding struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding"`
	Text   string   `json:"text,omitempty"`
}

// ResourceReference splits "Type/Id" references on decode. Use Reference for
// records that must survive a round trip.
type ResourceReference struct {
	ResourceType string `json:"-"`
	Reference    string `json:"reference"`
	Type         string `json:"type,omitempty"`
	Display      string `json:"display,omitempty"`
}

type Reference struct {
	Reference string `json:"reference"`
	Display   string `json:"display,omitempty"`
}

type Annotation struct {
	Text string `json:"text"`
}

/*********************************
 ****** FHIR Nested Structs ******
 *********************************/

type Period struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// Create custom date type
type Date struct {
	time.Time
}

/*******************************
 ***** Unmarshal Functions *****
 *******************************/

func (r *ResourceReference) UnmarshalJSON(data []byte) error {

	// Create a temporary struct to hold raw data
	var temp struct {
		Reference string `json:"reference"`
		Type      string `json:"type"`
		Display   string `json:"display"`
	}

	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	// Parse resource and ID from "ResourceType/ID"
	if parts := strings.SplitN(temp.Reference, "/", 2); len(parts) == 2 {
		r.ResourceType = parts[0]
		r.Reference = parts[1]
	} else {
		r.Reference = temp.Reference
	}

	r.Type = temp.Type
	r.Display = temp.Display

	return nil
}

// MarshalJSON joins the type back onto the reference.
func (r ResourceReference) MarshalJSON() ([]byte, error) {
	reference := r.Reference
	if r.ResourceType != "" {
		reference = r.ResourceType + "/" + r.Reference
	}

	return json.Marshal(struct {
		Reference string `json:"reference"`
		Type      string `json:"type,omitempty"`
		Display   string `json:"display,omitempty"`
	}{reference, r.Type, r.Display})
}

// Custom UnmarshalJSON for Date type
func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}

	// Remove quotes around the date string
	var dateStr string
	if err := json.Unmarshal(data, &dateStr); err != nil {
		return fmt.Errorf("error parsing date: %v", err)
	}
	if dateStr == "" {
		return nil
	}

	parsedTime, err := parseDate(dateStr)
	if err != nil {
		return fmt.Errorf("error parsing date: %v", err)
	}

	d.Time = parsedTime
	return nil
}
