package engine

import (
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/vigilstack/incident-correlator/internal/models"
)

// Scoring weights: a rule's base weight dominates, recency of its freshest
// evidence adds up to 0.25, and every independent supporting signal kind
// beyond the first adds 0.05.
const (
	recencyBonus  = 0.25
	evidenceBonus = 0.05
)

// Ranker maps an incident's candidate signals to ranked root-cause
// hypotheses using the current rule base. The rule base is immutable at
// runtime; hot reload swaps it wholesale.
type Ranker struct {
	logger *slog.Logger
	rules  atomic.Pointer[RuleBase]
}

// NewRanker constructs a Ranker over the given rule base.
func NewRanker(logger *slog.Logger, base *RuleBase) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	if base == nil {
		base = DefaultRuleBase()
	}
	r := &Ranker{logger: logger}
	r.rules.Store(base)
	return r
}

// Swap atomically replaces the rule base.
func (r *Ranker) Swap(base *RuleBase) {
	if base == nil {
		return
	}
	r.rules.Store(base)
}

// Diagnose evaluates every rule against the incident's candidate signals,
// attaches the sorted hypothesis list, and moves the incident to
// DIAGNOSED. It never fails on well-formed input; zero matches is a valid
// outcome and the report layer states it explicitly.
func (r *Ranker) Diagnose(incident *models.Incident) {
	rc := newRuleContext(incident.Trigger, incident.CandidateSignals)
	base := r.rules.Load()

	var hypotheses []models.RootCauseHypothesis
	for _, rule := range base.Rules() {
		supporting := rule.match(rc)
		if len(supporting) == 0 {
			continue
		}
		hypotheses = append(hypotheses, models.RootCauseHypothesis{
			RuleID:                rule.ID,
			Explanation:           rule.Explanation,
			Confidence:            score(rule, supporting, rc),
			SupportingSignals:     supporting,
			RecommendedMitigation: rule.Mitigation,
		})
	}

	sortHypotheses(hypotheses, base)

	incident.RankedCauses = hypotheses
	incident.DiagnosisComplete = len(incident.Notes) == 0
	if incident.State == models.StateOpen {
		if err := incident.Transition(models.StateDiagnosed); err != nil {
			r.logger.Warn("incident transition failed", slog.String("incident_id", incident.ID), slog.Any("error", err))
		}
	}

	r.logger.Debug("diagnosis complete",
		slog.String("incident_id", incident.ID),
		slog.Int("candidates", len(incident.CandidateSignals)),
		slog.Int("hypotheses", len(hypotheses)),
	)
}

// score derives the confidence in [0,1] from the rule's base weight, the
// recency of the freshest supporting signal relative to the candidate
// window, and the number of independent supporting signal kinds.
func score(rule Rule, supporting []models.Signal, rc ruleContext) float64 {
	confidence := rule.BaseWeight
	confidence += recencyBonus * recency(supporting, rc)

	kinds := make(map[models.SignalKind]struct{}, len(supporting))
	for _, sig := range supporting {
		kinds[sig.Kind] = struct{}{}
	}
	if len(kinds) > 1 {
		confidence += evidenceBonus * float64(len(kinds)-1)
	}
	return clamp(confidence, 0, 1)
}

// recency places the freshest supporting signal inside the candidate
// window: 0 at the window start, 1 at the trigger.
func recency(supporting []models.Signal, rc ruleContext) float64 {
	if len(rc.candidates) == 0 {
		return 0
	}
	windowStart := rc.candidates[0].Timestamp
	for _, sig := range rc.candidates[1:] {
		if sig.Timestamp.Before(windowStart) {
			windowStart = sig.Timestamp
		}
	}
	span := rc.trigger.Timestamp.Sub(windowStart)
	if span <= 0 {
		return 1
	}

	var freshest time.Time
	for _, sig := range supporting {
		if sig.Timestamp.After(freshest) {
			freshest = sig.Timestamp
		}
	}
	return clamp(float64(freshest.Sub(windowStart))/float64(span), 0, 1)
}

// sortHypotheses orders by confidence descending, ties broken by rule
// priority then by recency of the most recent supporting signal.
func sortHypotheses(hypotheses []models.RootCauseHypothesis, base *RuleBase) {
	priorities := make(map[string]int, len(base.Rules()))
	for _, rule := range base.Rules() {
		priorities[rule.ID] = rule.Priority
	}

	sort.SliceStable(hypotheses, func(i, j int) bool {
		if hypotheses[i].Confidence != hypotheses[j].Confidence {
			return hypotheses[i].Confidence > hypotheses[j].Confidence
		}
		if pi, pj := priorities[hypotheses[i].RuleID], priorities[hypotheses[j].RuleID]; pi != pj {
			return pi < pj
		}
		return hypotheses[i].MostRecentSupport().After(hypotheses[j].MostRecentSupport())
	})
}
