package export

import (
	"fmt"
	"strings"
)

// AssociatedData is a value of the includeAssociatedData kick-off parameter:
// a closed set of codes defined by the bulk data specification, extensible
// with server-specific codes prefixed with an underscore.
type AssociatedData string

const (
	// LatestProvenanceResources requests the most recent Provenance
	// resource for each exported resource.
	LatestProvenanceResources AssociatedData = "LatestProvenanceResources"

	// RelevantProvenanceResources requests all Provenance resources
	// relevant to the exported resources.
	RelevantProvenanceResources AssociatedData = "RelevantProvenanceResources"
)

// CustomAssociatedData creates a server-specific associated data code. The
// code must start with an underscore.
func CustomAssociatedData(code string) (AssociatedData, error) {
	if !strings.HasPrefix(code, "_") {
		return "", fmt.Errorf("custom associated data code must start with '_': %q", code)
	}
	return AssociatedData(code), nil
}

// AssociatedDataFromCode resolves a string code: one of the well-known
// codes, or a custom underscore-prefixed code.
func AssociatedDataFromCode(code string) (AssociatedData, error) {
	switch AssociatedData(code) {
	case LatestProvenanceResources, RelevantProvenanceResources:
		return AssociatedData(code), nil
	}
	if strings.HasPrefix(code, "_") {
		return AssociatedData(code), nil
	}
	return "", fmt.Errorf("unknown associated data code: %q", code)
}

func joinAssociatedData(values []AssociatedData) string {
	codes := make([]string, len(values))
	for i, v := range values {
		codes[i] = string(v)
	}
	return strings.Join(codes, ",")
}
