package fhir

import "encoding/json"

// Issue codes that mark a server-side failure as retryable during status
// polling, per the FHIR async request pattern.
var retryableIssueCodes = map[string]bool{
	"transient": true,
	"throttled": true,
	"timeout":   true,
}

// Issue is a single issue inside an OperationOutcome.
type Issue struct {
	Severity    string `json:"severity,omitempty"`
	Code        string `json:"code,omitempty"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// OperationOutcome is the FHIR error resource returned by servers on
// protocol failures.
type OperationOutcome struct {
	ResourceType string  `json:"resourceType"`
	Issue        []Issue `json:"issue,omitempty"`
}

// IsOperationOutcome reports whether the resource really is an
// OperationOutcome, guarding against servers that return other JSON bodies
// with error statuses.
func (o OperationOutcome) IsOperationOutcome() bool {
	return o.ResourceType == "OperationOutcome"
}

// IsTransient reports whether every issue carries a retryable code. An
// outcome with no issues is not transient.
func (o OperationOutcome) IsTransient() bool {
	if !o.IsOperationOutcome() || len(o.Issue) == 0 {
		return false
	}
	for _, issue := range o.Issue {
		if !retryableIssueCodes[issue.Code] {
			return false
		}
	}
	return true
}

// ParseOperationOutcome decodes an OperationOutcome from a JSON body.
// Returns nil if the body is not a well-formed OperationOutcome.
func ParseOperationOutcome(body []byte) *OperationOutcome {
	var outcome OperationOutcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		return nil
	}
	if !outcome.IsOperationOutcome() {
		return nil
	}
	return &outcome
}

// ErrorOutcome builds an OperationOutcome with a single error issue. Used by
// the CLI and by tests standing in for a server.
func ErrorOutcome(code, diagnostics string) OperationOutcome {
	return OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []Issue{
			{Severity: "error", Code: code, Diagnostics: diagnostics},
		},
	}
}
