package export

import "fmt"

type levelKind int

const (
	levelSystem levelKind = iota
	levelPatient
	levelGroup
)

// Level selects the scope of the export operation: system-wide, all
// patients, or a single group. The set is closed by the FHIR bulk data
// specification.
type Level struct {
	kind    levelKind
	groupID string
}

// SystemLevel exports the whole system via "$export".
func SystemLevel() Level { return Level{kind: levelSystem} }

// PatientLevel exports all patient compartments via "Patient/$export".
func PatientLevel() Level { return Level{kind: levelPatient} }

// GroupLevel exports the members of one group via "Group/{id}/$export".
func GroupLevel(id string) Level { return Level{kind: levelGroup, groupID: id} }

// Path returns the export operation path for this level, relative to the
// FHIR base URL.
func (l Level) Path() string {
	switch l.kind {
	case levelPatient:
		return "Patient/$export"
	case levelGroup:
		return fmt.Sprintf("Group/%s/$export", l.groupID)
	default:
		return "$export"
	}
}

// PatientSupported reports whether the kick-off may carry a patient list.
func (l Level) PatientSupported() bool {
	return l.kind == levelPatient || l.kind == levelGroup
}

// GroupID returns the group ID for a group-level export, empty otherwise.
func (l Level) GroupID() string { return l.groupID }

func (l Level) String() string {
	switch l.kind {
	case levelPatient:
		return "patient"
	case levelGroup:
		return "group/" + l.groupID
	default:
		return "system"
	}
}
