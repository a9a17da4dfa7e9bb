package main

import (
	"encoding/json"
	"fmt"
)

// Simple struct to identify resourceType
type Resource struct {
	ResourceType string `json:"resourceType"`
}

type Bundle struct {
	ResourceType string `json:"resourceType"`
	Total        int    `json:"total"`
	Entry        []struct {
		FullUrl  string          `json:"fullUrl"`
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
}

// resourceHandler receives each resource found in a FHIR payload.
type resourceHandler func(resourceType string, data []byte) error

// parseFHIR walks a Bundle or a single resource, passing every resource to fn.
func parseFHIR(data []byte, fn resourceHandler) error {
	var resource Resource
	if err := json.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to decode resourceType: %w", err)
	}

	switch resource.ResourceType {
	case "Bundle":
		return parseBundle(data, fn)

	default:
		// Assume a single resource
		return fn(resource.ResourceType, data)
	}
}

func parseBundle(data []byte, fn resourceHandler) error {

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("error unmarshalling bundle: %s", err)
	}

	// Send individual entries to parse individually
	for _, entry := range bundle.Entry {
		var resource Resource
		if err := json.Unmarshal(entry.Resource, &resource); err != nil {
			return fmt.Errorf("failed to decode resourceType: %w", err)
		}
		if err := fn(resource.ResourceType, entry.Resource); err != nil {
			return err
		}
	}

	return nil
}

func (pr *ProtocolRequest) processFHIRResponse(data []byte) error {
	// Perform lock to avoid race conditions on shared data struct
	pr.mu.Lock()
	defer pr.mu.Unlock()

	return parseFHIR(data, pr.parseResource)
}

func (pr *ProtocolRequest) parseResource(resourceType string, data []byte) error {

	switch resourceType {
	case "Condition":
		var condition Condition
		if err := json.Unmarshal(data, &condition); err != nil {
			return fmt.Errorf("error unmarshalling Condition: %s:%s", err, string(data))
		}
		pr.Data.Conditions = append(pr.Data.Conditions, &condition)

	case "OperationOutcome":
		// Informational outcomes ride along with search bundles
	}
	return nil
}

// Define a generic function to remove duplicates based on a field.
func removeDuplicates[T any](slice []T, keyFunc func(T) any) []T {
	seen := make(map[interface{}]bool)
	var result []T

	for _, item := range slice {
		key := keyFunc(item)
		if !seen[key] {
			seen[key] = true
			result = append(result, item)
		}
	}

	return result
}
