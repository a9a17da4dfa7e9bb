package main

import (
	"fmt"
	"sort"
	"strings"
)

const (
	generalAssessmentName        = "General Assessment"
	generalAssessmentExplanation = "No specific condition pattern matched. Using general assessment protocol for safety."

	requiredSymptomWeight = 2
	optionalSymptomWeight = 1
)

// ConditionDefinition maps a cluster of symptom codes to a named condition and
// the protocol that treats it.
type ConditionDefinition struct {
	Key              string   `json:"key" mapstructure:"key"`
	Name             string   `json:"name" mapstructure:"name"`
	ProtocolId       string   `json:"protocolId" mapstructure:"protocolId"`
	RequiredSymptoms []string `json:"requiredSymptoms" mapstructure:"requiredSymptoms"`
	OptionalSymptoms []string `json:"optionalSymptoms" mapstructure:"optionalSymptoms"`
	MinSymptomCount  int      `json:"minSymptomCount" mapstructure:"minSymptomCount"`
	Explanation      string   `json:"explanation" mapstructure:"explanation"`
}

// MatchDetail is the evaluation of a single condition against a symptom set.
type MatchDetail struct {
	Condition       string   `json:"condition"`
	ProtocolId      string   `json:"protocolId"`
	Score           int      `json:"score"`
	MatchedRequired []string `json:"matchedRequired"`
	MatchedOptional []string `json:"matchedOptional"`
	MissingRequired []string `json:"missingRequired"`
	TotalMatched    int      `json:"totalMatched"`
	MinRequired     int      `json:"minRequired"`
	RequiredMet     bool     `json:"requiredMet"`
	Explanation     string   `json:"explanation"`
}

type MatchResult struct {
	BestMatch  *MatchDetail   `json:"bestMatch"`
	AllMatches []*MatchDetail `json:"allMatches"`
	Reasoning  []string       `json:"reasoning"`
}

// ConditionMatcher scores symptom sets against a fixed condition table.
//
// The table is evaluated in declaration order and a condition only replaces the
// current best on a strictly greater score, so on ties the first declared
// condition wins. A matcher is never mutated after construction and is safe for
// concurrent use.
type ConditionMatcher struct {
	conditions      []ConditionDefinition
	index           map[string]int
	symptomNames    map[string]string
	defaultProtocol string
}

func NewConditionMatcher(conditions []ConditionDefinition, symptomNames map[string]string, defaultProtocol string) *ConditionMatcher {
	m := &ConditionMatcher{
		conditions:      make([]ConditionDefinition, 0, len(conditions)),
		index:           make(map[string]int, len(conditions)),
		symptomNames:    make(map[string]string, len(symptomNames)),
		defaultProtocol: defaultProtocol,
	}

	for _, c := range conditions {
		c.RequiredSymptoms = append([]string(nil), c.RequiredSymptoms...)
		c.OptionalSymptoms = append([]string(nil), c.OptionalSymptoms...)
		if c.Key == "" {
			c.Key = c.ProtocolId
		}
		m.index[c.Key] = len(m.conditions)
		m.conditions = append(m.conditions, c)
	}
	for code, name := range symptomNames {
		m.symptomNames[code] = name
	}

	return m
}

// Conditions returns a copy of the condition table in declaration order.
func (m *ConditionMatcher) Conditions() []ConditionDefinition {
	out := make([]ConditionDefinition, len(m.conditions))
	copy(out, m.conditions)
	return out
}

func (m *ConditionMatcher) Condition(key string) (ConditionDefinition, bool) {
	i, ok := m.index[key]
	if !ok {
		return ConditionDefinition{}, false
	}
	c := m.conditions[i]
	c.RequiredSymptoms = append([]string(nil), c.RequiredSymptoms...)
	c.OptionalSymptoms = append([]string(nil), c.OptionalSymptoms...)
	return c, true
}

func (m *ConditionMatcher) DefaultProtocol() string {
	return m.defaultProtocol
}

// SymptomName returns the readable label for a code, or the code itself.
func (m *ConditionMatcher) SymptomName(code string) string {
	if name, ok := m.symptomNames[code]; ok {
		return name
	}
	return code
}

// Match returns the best eligible condition for the given symptom codes, or the
// general assessment fallback when none qualifies.
func (m *ConditionMatcher) Match(symptomCodes []string) *MatchDetail {
	best, _ := m.evaluate(symptomCodes)
	return best
}

// Explain is Match plus every evaluated condition, ranked by score, and the
// reasoning behind the choice.
func (m *ConditionMatcher) Explain(symptomCodes []string) *MatchResult {
	best, details := m.evaluate(symptomCodes)

	sort.SliceStable(details, func(i, j int) bool {
		return details[i].Score > details[j].Score
	})

	return &MatchResult{
		BestMatch:  best,
		AllMatches: details,
		Reasoning:  generateReasoning(best, details),
	}
}

func (m *ConditionMatcher) evaluate(symptomCodes []string) (*MatchDetail, []*MatchDetail) {
	present := make(map[string]struct{}, len(symptomCodes))
	for _, code := range symptomCodes {
		present[code] = struct{}{}
	}

	var best *MatchDetail
	bestScore := 0
	details := make([]*MatchDetail, 0, len(m.conditions))

	for _, c := range m.conditions {
		detail := &MatchDetail{
			Condition:       c.Name,
			ProtocolId:      c.ProtocolId,
			MatchedRequired: []string{},
			MatchedOptional: []string{},
			MissingRequired: []string{},
			MinRequired:     c.MinSymptomCount,
			RequiredMet:     true,
			Explanation:     c.Explanation,
		}

		for _, code := range c.RequiredSymptoms {
			if _, ok := present[code]; ok {
				detail.Score += requiredSymptomWeight
				detail.MatchedRequired = append(detail.MatchedRequired, m.SymptomName(code))
			} else {
				detail.RequiredMet = false
				detail.MissingRequired = append(detail.MissingRequired, m.SymptomName(code))
			}
		}

		for _, code := range c.OptionalSymptoms {
			if _, ok := present[code]; ok {
				detail.Score += optionalSymptomWeight
				detail.MatchedOptional = append(detail.MatchedOptional, m.SymptomName(code))
			}
		}

		detail.TotalMatched = len(detail.MatchedRequired) + len(detail.MatchedOptional)
		details = append(details, detail)

		eligible := (detail.RequiredMet || len(c.RequiredSymptoms) == 0) && detail.TotalMatched >= c.MinSymptomCount
		if eligible && detail.Score > bestScore {
			best = detail
			bestScore = detail.Score
		}
	}

	if best == nil {
		zapLogger.Debug("No specific condition matched, defaulting to general assessment")
		best = m.generalAssessment()
	}

	return best, details
}

func (m *ConditionMatcher) generalAssessment() *MatchDetail {
	return &MatchDetail{
		Condition:       generalAssessmentName,
		ProtocolId:      m.defaultProtocol,
		MatchedRequired: []string{},
		MatchedOptional: []string{},
		MissingRequired: []string{},
		Explanation:     generalAssessmentExplanation,
	}
}

// generateReasoning renders the human readable transcript for a match. Other
// conditions are identified by protocol id, so the winner is never listed twice.
func generateReasoning(bestMatch *MatchDetail, allMatches []*MatchDetail) []string {
	var reasoning []string

	if bestMatch.Score == 0 {
		return append(reasoning,
			"No specific symptom patterns were recognized.",
			"Defaulting to a general assessment protocol for safety.",
		)
	}

	reasoning = append(reasoning, "Selected \""+bestMatch.Condition+"\" protocol because:")

	if len(bestMatch.MatchedRequired) > 0 {
		reasoning = append(reasoning, "• Key symptoms present: "+strings.Join(bestMatch.MatchedRequired, ", "))
	}
	if len(bestMatch.MatchedOptional) > 0 {
		reasoning = append(reasoning, "• Supporting symptoms: "+strings.Join(bestMatch.MatchedOptional, ", "))
	}
	reasoning = append(reasoning, "• "+bestMatch.Explanation)

	var others []*MatchDetail
	for _, match := range allMatches {
		if match.ProtocolId != bestMatch.ProtocolId && match.Score > 0 {
			others = append(others, match)
		}
	}
	if len(others) == 0 {
		return reasoning
	}

	reasoning = append(reasoning, "", "Other protocols considered:")
	for _, match := range others {
		reasoning = append(reasoning, rejectionReason(match, bestMatch))
	}

	return reasoning
}

func rejectionReason(match, bestMatch *MatchDetail) string {
	switch {
	case len(match.MissingRequired) > 0:
		return "• " + match.Condition + ": Missing required symptom(s) - " + strings.Join(match.MissingRequired, ", ")
	case match.TotalMatched < match.MinRequired:
		return fmt.Sprintf("• %s: Only %d symptom(s) matched, needs at least %d", match.Condition, match.TotalMatched, match.MinRequired)
	default:
		return fmt.Sprintf("• %s: Lower match score (%d vs %d)", match.Condition, match.Score, bestMatch.Score)
	}
}
