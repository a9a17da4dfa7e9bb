package main

const defaultProtocolId = "general-assessment"

// Built-in condition table. Order matters: it is the evaluation order and
// decides ties.
var defaultConditions = []ConditionDefinition{
	{
		Key:              "kidney-stones",
		Name:             "Kidney Stones",
		ProtocolId:       "kidney-stone-management",
		RequiredSymptoms: []string{"102491009"},                                     // Flank pain
		OptionalSymptoms: []string{"34436003", "422587007", "422400008", "49650001"}, // Hematuria, nausea, vomiting, painful urination
		MinSymptomCount:  1,
		Explanation:      "Flank pain is a primary indicator of kidney stones, especially when combined with urinary symptoms",
	},
	{
		Key:              "acute-back-pain",
		Name:             "Acute Back Pain",
		ProtocolId:       "acute-back-pain",
		RequiredSymptoms: []string{"161891005", "279039007"},             // Back pain, lower back pain
		OptionalSymptoms: []string{"13791008", "271681002", "102494001"}, // Weakness, numbness, radiating pain
		MinSymptomCount:  1,
		Explanation:      "Back pain symptoms indicate musculoskeletal issues requiring pain management and mobility assessment",
	},
	{
		Key:              "dehydration",
		Name:             "Dehydration",
		ProtocolId:       "dehydration-protocol",
		RequiredSymptoms: []string{},
		OptionalSymptoms: []string{"25064002", "404640003", "87715008", "271825005", "167217005", "165232002"},
		MinSymptomCount:  2,
		Explanation:      "Multiple systemic symptoms like headache, dizziness, and dry mouth together indicate dehydration",
	},
}

// SNOMED CT labels used in reasoning text
var defaultSymptomNames = map[string]string{
	"102491009": "Flank pain",
	"34436003":  "Blood in urine",
	"422587007": "Nausea",
	"422400008": "Vomiting",
	"49650001":  "Painful urination",
	"161891005": "Back pain",
	"279039007": "Lower back pain",
	"13791008":  "Muscle weakness",
	"271681002": "Numbness",
	"102494001": "Radiating pain",
	"25064002":  "Headache",
	"404640003": "Dizziness",
	"87715008":  "Dry mouth",
	"271825005": "Fatigue",
	"167217005": "Dark urine",
	"165232002": "Decreased urination",
}

// Common symptoms always offered by the fallback search
var symptomCatalog = []SymptomResult{
	{
		Id:          "flank-pain",
		Display:     "Flank pain",
		Code:        "102491009",
		System:      snomedSystem,
		Description: "Pain in the side of the body between the ribs and hip",
	},
	{
		Id:          "hematuria",
		Display:     "Blood in urine (hematuria)",
		Code:        "34436003",
		System:      snomedSystem,
		Description: "Presence of blood in urine",
	},
	{
		Id:          "back-pain",
		Display:     "Back pain",
		Code:        "161891005",
		System:      snomedSystem,
		Description: "Pain in the back region",
	},
	{
		Id:          "headache",
		Display:     "Headache",
		Code:        "25064002",
		System:      snomedSystem,
		Description: "Pain in the head",
	},
	{
		Id:          "dizziness",
		Display:     "Dizziness",
		Code:        "404640003",
		System:      snomedSystem,
		Description: "Feeling of lightheadedness or vertigo",
	},
	{
		Id:          "dry-mouth",
		Display:     "Dry mouth",
		Code:        "87715008",
		System:      snomedSystem,
		Description: "Lack of adequate saliva in mouth",
	},
}
