package models

import (
	"fmt"
	"time"
)

// IncidentState tracks an incident through its lifecycle.
type IncidentState string

const (
	StateOpen       IncidentState = "open"
	StateDiagnosed  IncidentState = "diagnosed"
	StateMitigating IncidentState = "mitigating"
	StateResolved   IncidentState = "resolved"
	StateEscalated  IncidentState = "escalated"
)

var stateTransitions = map[IncidentState][]IncidentState{
	StateOpen:       {StateDiagnosed, StateEscalated},
	StateDiagnosed:  {StateMitigating, StateResolved, StateEscalated},
	StateMitigating: {StateResolved, StateEscalated},
	StateResolved:   {},
	StateEscalated:  {},
}

// Valid reports whether the state is a recognised lifecycle state.
func (s IncidentState) Valid() bool {
	_, ok := stateTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is a legal transition from s.
func (s IncidentState) CanTransitionTo(next IncidentState) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RootCauseHypothesis is one scored, rule-derived explanation for an
// incident. Immutable once created; append-only within an Incident.
type RootCauseHypothesis struct {
	RuleID                string   `json:"rule_id"`
	Explanation           string   `json:"explanation"`
	Confidence            float64  `json:"confidence"`
	SupportingSignals     []Signal `json:"supporting_signals,omitempty"`
	RecommendedMitigation string   `json:"recommended_mitigation"`
}

// MostRecentSupport returns the latest supporting signal timestamp, used to
// break confidence ties.
func (h RootCauseHypothesis) MostRecentSupport() time.Time {
	var latest time.Time
	for _, sig := range h.SupportingSignals {
		if sig.Timestamp.After(latest) {
			latest = sig.Timestamp
		}
	}
	return latest
}

// Incident records one triggering alert from correlation through diagnosis
// to resolution.
type Incident struct {
	ID                string                `json:"id"`
	Trigger           Signal                `json:"trigger"`
	OpenedAt          time.Time             `json:"opened_at"`
	State             IncidentState         `json:"state"`
	CandidateSignals  []Signal              `json:"candidate_signals,omitempty"`
	RankedCauses      []RootCauseHypothesis `json:"ranked_causes,omitempty"`
	Notes             []string              `json:"notes,omitempty"`
	DiagnosisComplete bool                  `json:"diagnosis_complete"`
}

// Transition moves the incident to next, rejecting illegal transitions.
func (i *Incident) Transition(next IncidentState) error {
	if !next.Valid() {
		return fmt.Errorf("unknown incident state %q", next)
	}
	if !i.State.CanTransitionTo(next) {
		return fmt.Errorf("illegal transition %s -> %s", i.State, next)
	}
	i.State = next
	return nil
}

// AddNote appends a degraded/partial-result note.
func (i *Incident) AddNote(note string) {
	if note == "" {
		return
	}
	i.Notes = append(i.Notes, note)
}
