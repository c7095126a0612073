package models

import "time"

// NoHypothesisSummary is the explicit marker reported when diagnosis found
// no automatic root cause. Responders must never mistake an empty diagnosis
// for "no cause exists".
const NoHypothesisSummary = "no automatic hypothesis; manual investigation required"

// RankedCauseSummary is the outward-facing projection of one hypothesis.
type RankedCauseSummary struct {
	RuleID                string  `json:"rule_id"`
	Explanation           string  `json:"explanation"`
	Confidence            float64 `json:"confidence"`
	SupportingSignalCount int     `json:"supporting_signal_count"`
	RecommendedMitigation string  `json:"recommended_mitigation"`
}

// IncidentReport is the structured payload handed to an external
// notification/ticketing collaborator. The collaborator owns all
// vendor-specific formatting.
type IncidentReport struct {
	IncidentID             string               `json:"incident_id"`
	Service                string               `json:"service"`
	TriggerSummary         string               `json:"trigger_summary"`
	State                  IncidentState        `json:"state"`
	OpenedAt               time.Time            `json:"opened_at"`
	CandidateSignalCount   int                  `json:"candidate_signal_count"`
	RankedCauses           []RankedCauseSummary `json:"ranked_causes"`
	RecommendedMitigations []string             `json:"recommended_mitigations"`
	Notes                  []string             `json:"notes,omitempty"`
	DiagnosisComplete      bool                 `json:"diagnosis_complete"`
	Summary                string               `json:"summary"`
}

// DeploymentHint is emitted when a deployment signal is the top hypothesis,
// for an external code-review collaborator to act on.
type DeploymentHint struct {
	IncidentID string `json:"incident_id"`
	Service    string `json:"service"`
	Commit     string `json:"commit,omitempty"`
	Repository string `json:"repository,omitempty"`
}
