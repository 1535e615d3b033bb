package fhir

import "time"

// Reference is a FHIR reference value, e.g. "Patient/0001". Only the literal
// reference string is carried.
type Reference struct {
	Reference string `json:"reference"`
}

// Ref creates a Reference from its literal string.
func Ref(reference string) Reference {
	return Reference{Reference: reference}
}

// Parameter is a single entry in a Parameters resource. Exactly one of the
// value fields is set.
type Parameter struct {
	Name           string     `json:"name"`
	ValueString    string     `json:"valueString,omitempty"`
	ValueInstant   *Instant   `json:"valueInstant,omitempty"`
	ValueReference *Reference `json:"valueReference,omitempty"`
}

// StringParam creates a valueString parameter.
func StringParam(name, value string) Parameter {
	return Parameter{Name: name, ValueString: value}
}

// InstantParam creates a valueInstant parameter.
func InstantParam(name string, t time.Time) Parameter {
	v := At(t)
	return Parameter{Name: name, ValueInstant: &v}
}

// ReferenceParam creates a valueReference parameter.
func ReferenceParam(name string, ref Reference) Parameter {
	return Parameter{Name: name, ValueReference: &ref}
}

// Parameters is a FHIR Parameters resource, the body of a POST kick-off
// request.
type Parameters struct {
	ResourceType string      `json:"resourceType"`
	Parameter    []Parameter `json:"parameter"`
}

// NewParameters assembles a Parameters resource from the given entries.
func NewParameters(params ...Parameter) Parameters {
	return Parameters{ResourceType: "Parameters", Parameter: params}
}
