package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"text/template"
	"time"

	"github.com/google/uuid"
)

type Hook struct {
	Cards         []Card          `json:"cards"`
	SystemActions []SystemActions `json:"systemActions"`
}

type Card struct {
	UUID              string       `json:"uuid"`
	Summary           string       `json:"summary"`
	Detail            string       `json:"detail"`
	Indicator         string       `json:"indicator"`
	Source            Source       `json:"source"`
	SelectionBehavior string       `json:"selectionBehavior,omitempty"`
	Links             []Link       `json:"links,omitempty"`
	Suggestions       []Suggestion `json:"suggestions,omitempty"`
}

type Source struct {
	Label string  `json:"label"`
	URL   string  `json:"url,omitempty"`
	Topic *Coding `json:"topic,omitempty"`
}

type Suggestion struct {
	Label   string   `json:"label"`
	UUID    string   `json:"uuid"`
	Actions []Action `json:"actions"`
}

type Action struct {
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Resource    interface{} `json:"resource"`
}

type ServiceRequest struct {
	ResourceType string            `json:"resourceType"`
	Status       string            `json:"status"`
	Intent       string            `json:"intent"`
	Priority     string            `json:"priority,omitempty"`
	Category     []CodeableConcept `json:"category"`
	Code         CodeableConcept   `json:"code"`
	Subject      ResourceReference `json:"subject"`
	ReasonCode   []CodeableConcept `json:"reasonCode,omitempty"`
}

type SystemActions struct {
	// Define fields if needed
}

var cardDetailTemplate = template.Must(template.New("cardDetail").Parse(
	`{{range .Reasoning}}{{.}}
{{end}}
Symptoms evaluated: {{.Symptoms}}`))

func parseCDSHooksRequest(body io.Reader) (HookRequest, error) {

	reqBytes, err := io.ReadAll(body)
	if err != nil {
		return HookRequest{}, err
	}

	var hookRequest HookRequest
	if err := json.Unmarshal(reqBytes, &hookRequest); err != nil {
		return HookRequest{}, fmt.Errorf("unable to unmarshal hooks message: %v", err)
	}

	return hookRequest, nil
}

func generateCardDetail(result *MatchResult, symptoms []string) (string, error) {
	var buf bytes.Buffer
	data := map[string]any{
		"Reasoning": result.Reasoning,
		"Symptoms":  len(symptoms),
	}
	if err := cardDetailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func structToMap(s any) map[string]string {
	result := make(map[string]string)

	val := reflect.ValueOf(s)
	typ := reflect.TypeOf(s)

	for i := range val.NumField() {
		field := typ.Field(i)
		value := val.Field(i)

		// Convert values to string
		var strValue string
		switch value.Kind() {
		case reflect.Bool:
			strValue = strconv.FormatBool(value.Bool())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			strValue = strconv.FormatInt(value.Int(), 10)
		case reflect.String:
			strValue = value.String()
		default:
			strValue = fmt.Sprintf("%v", value.Interface()) // Fallback for other types
		}

		result[field.Name] = strValue
	}
	return result
}

func (h *Hook) addCard(best *MatchDetail, detail string) {
	formattedTime := time.Now().Format("20060102150405")

	h.Cards = append(h.Cards, Card{
		UUID:      uuid.NewString(),
		Summary:   "Suggested care pathway: " + best.Condition,
		Indicator: "info",
		Detail:    detail,
		Source: Source{
			Label: appName,
			Topic: &Coding{
				System: protocolSystem,
				Code:   fmt.Sprintf("%s-%s", best.ProtocolId, formattedTime),
			},
		},
	})
}

func (h *Hook) addProtocolSuggestion(card int, patId string, best *MatchDetail) {
	if h.Cards[card].Suggestions == nil {
		h.Cards[card].Suggestions = []Suggestion{}
	}

	suggestion := Suggestion{
		Label: best.Condition + " protocol",
		UUID:  uuid.NewString(),
		Actions: []Action{
			{
				Type:        "create",
				Description: "Start the " + best.Condition + " intervention protocol",
				Resource: ServiceRequest{
					ResourceType: "ServiceRequest",
					Status:       "draft",
					Intent:       "proposal",
					Category: []CodeableConcept{
						{
							Coding: []Coding{
								{
									System:  "http://snomed.info/sct",
									Code:    "386053000",
									Display: "Evaluation procedure",
								},
							},
						},
					},
					Code: CodeableConcept{
						Coding: []Coding{
							{
								System:  protocolSystem,
								Code:    best.ProtocolId,
								Display: best.Condition,
							},
						},
					},
					Subject: ResourceReference{
						Reference: fmt.Sprintf("Patient/%s", patId),
					},
				},
			},
		},
	}

	h.Cards[card].Suggestions = append(h.Cards[card].Suggestions, suggestion)
}
