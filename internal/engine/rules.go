package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vigilstack/incident-correlator/internal/models"
)

// ruleContext is the evidence a rule predicate evaluates against.
type ruleContext struct {
	trigger    models.Signal
	candidates []models.Signal
	byKind     map[models.SignalKind][]models.Signal
}

func newRuleContext(trigger models.Signal, candidates []models.Signal) ruleContext {
	byKind := make(map[models.SignalKind][]models.Signal)
	for _, sig := range candidates {
		byKind[sig.Kind] = append(byKind[sig.Kind], sig)
	}
	return ruleContext{trigger: trigger, candidates: candidates, byKind: byKind}
}

// Rule is one fixed hypothesis template: a predicate over the candidate
// sequence plus scoring and mitigation metadata. Lower Priority wins ties.
type Rule struct {
	ID          string
	Priority    int
	BaseWeight  float64
	Explanation string
	Mitigation  string
	match       func(rc ruleContext) []models.Signal
}

// RuleBase is an immutable, ordered set of rules. Hot reload builds a new
// RuleBase and swaps it wholesale.
type RuleBase struct {
	rules []Rule
}

// Rules returns the ordered rule slice.
func (rb *RuleBase) Rules() []Rule {
	return rb.rules
}

// connectionFailurePatterns are substrings that mark a dependency call
// failure in a log message.
var connectionFailurePatterns = []string{
	"connection refused",
	"connection reset",
	"no route to host",
	"i/o timeout",
	"context deadline exceeded",
	"upstream unavailable",
}

// crashReasons are attribute values that mark a process/container crash.
var crashReasons = []string{"oomkilled", "crashloopbackoff", "crash", "oom"}

// DefaultRuleBase returns the built-in hypothesis rule base, ordered by
// priority.
func DefaultRuleBase() *RuleBase {
	return &RuleBase{rules: []Rule{
		{
			ID:          "deployment-regression",
			Priority:    1,
			BaseWeight:  0.55,
			Explanation: "a deployment preceding the trigger is the likely regression source",
			Mitigation:  "Roll back the most recent deployment",
			match:       matchDeploymentRegression,
		},
		{
			ID:          "dependency-outage",
			Priority:    2,
			BaseWeight:  0.5,
			Explanation: "a dependency is failing connections and shows crash evidence",
			Mitigation:  "Restart or fail over the affected dependency",
			match:       matchDependencyOutage,
		},
		{
			ID:          "resource-saturation",
			Priority:    3,
			BaseWeight:  0.4,
			Explanation: "resource metrics are saturated with no matching deployment",
			Mitigation:  "Scale up the service or raise its resource limits",
			match:       matchResourceSaturation,
		},
		{
			ID:          "error-burst",
			Priority:    4,
			BaseWeight:  0.35,
			Explanation: "a burst of error-severity logs on the trigger service",
			Mitigation:  "Inspect the error logs and recent changes on the trigger service",
			match:       matchErrorBurst,
		},
		{
			ID:          "traffic-surge",
			Priority:    5,
			BaseWeight:  0.3,
			Explanation: "request-rate metrics surged with no matching deployment",
			Mitigation:  "Scale out the service and verify rate limiting",
			match:       matchTrafficSurge,
		},
	}}
}

func matchDeploymentRegression(rc ruleContext) []models.Signal {
	var supporting []models.Signal
	for _, sig := range rc.byKind[models.KindDeployment] {
		if !sig.Timestamp.After(rc.trigger.Timestamp) {
			supporting = append(supporting, sig)
		}
	}
	return supporting
}

func matchDependencyOutage(rc ruleContext) []models.Signal {
	var failures, crashes []models.Signal
	for _, sig := range rc.candidates {
		if sig.Service == rc.trigger.Service {
			continue
		}
		if isConnectionFailure(sig) {
			failures = append(failures, sig)
		}
		if isCrash(sig) {
			crashes = append(crashes, sig)
		}
	}
	if len(failures) == 0 || len(crashes) == 0 {
		return nil
	}
	return append(failures, crashes...)
}

func matchResourceSaturation(rc ruleContext) []models.Signal {
	if len(rc.byKind[models.KindDeployment]) > 0 {
		return nil
	}
	return saturatedMetrics(rc, func(models.Signal) bool { return true })
}

func matchErrorBurst(rc ruleContext) []models.Signal {
	var burst []models.Signal
	for _, sig := range rc.byKind[models.KindLog] {
		if sig.Service == rc.trigger.Service && sig.Severity.Rank() >= models.SeverityHigh.Rank() {
			burst = append(burst, sig)
		}
	}
	if len(burst) < 3 {
		return nil
	}
	return burst
}

func matchTrafficSurge(rc ruleContext) []models.Signal {
	if len(rc.byKind[models.KindDeployment]) > 0 {
		return nil
	}
	return saturatedMetrics(rc, func(sig models.Signal) bool {
		name := strings.ToLower(sig.Attr("metric"))
		return strings.Contains(name, "request") || strings.Contains(name, "rps") || strings.Contains(name, "traffic")
	})
}

// saturatedMetrics returns trigger-service metric signals whose value sits
// at least two standard deviations above the candidate population.
func saturatedMetrics(rc ruleContext, accept func(models.Signal) bool) []models.Signal {
	var metrics []models.Signal
	var values []float64
	for _, sig := range rc.byKind[models.KindMetric] {
		if sig.Service != rc.trigger.Service || sig.Value == nil || !accept(sig) {
			continue
		}
		metrics = append(metrics, sig)
		values = append(values, *sig.Value)
	}
	if len(metrics) < 3 {
		return nil
	}

	scores := zScores(values)
	var saturated []models.Signal
	for i, sig := range metrics {
		if scores[i] >= 2 {
			saturated = append(saturated, sig)
		}
	}
	return saturated
}

func isConnectionFailure(sig models.Signal) bool {
	if sig.Kind != models.KindLog && sig.Kind != models.KindAlarm {
		return false
	}
	msg := strings.ToLower(sig.Attr("message"))
	for _, pattern := range connectionFailurePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isCrash(sig models.Signal) bool {
	reason := strings.ToLower(sig.Attr("reason"))
	for _, r := range crashReasons {
		if reason == r {
			return true
		}
	}
	return false
}

// RulePack is the YAML tuning layer over the built-in rule base: weights,
// mitigations, and enablement can be overridden, predicates cannot.
type RulePack struct {
	Rules []RulePackEntry `yaml:"rules"`
}

// RulePackEntry tunes one rule by id.
type RulePackEntry struct {
	ID         string   `yaml:"id"`
	Enabled    *bool    `yaml:"enabled"`
	Weight     *float64 `yaml:"weight"`
	Mitigation string   `yaml:"mitigation"`
}

// LoadRulePack reads a rule pack from path. A missing file yields an empty
// pack so the built-in base applies unchanged.
func LoadRulePack(path string) (RulePack, error) {
	if path == "" {
		return RulePack{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RulePack{}, nil
		}
		return RulePack{}, fmt.Errorf("read rule pack: %w", err)
	}
	var pack RulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return RulePack{}, fmt.Errorf("parse rule pack: %w", err)
	}
	return pack, nil
}

// Apply produces a new RuleBase with the pack's overrides applied. The
// receiver is left untouched.
func (rb *RuleBase) Apply(pack RulePack) (*RuleBase, error) {
	overrides := make(map[string]RulePackEntry, len(pack.Rules))
	for _, entry := range pack.Rules {
		if entry.ID == "" {
			return nil, fmt.Errorf("rule pack entry with empty id")
		}
		overrides[entry.ID] = entry
	}

	out := make([]Rule, 0, len(rb.rules))
	for _, rule := range rb.rules {
		entry, ok := overrides[rule.ID]
		if !ok {
			out = append(out, rule)
			continue
		}
		delete(overrides, rule.ID)
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		if entry.Weight != nil {
			if *entry.Weight < 0 || *entry.Weight > 1 {
				return nil, fmt.Errorf("rule %s: weight %v out of [0,1]", rule.ID, *entry.Weight)
			}
			rule.BaseWeight = *entry.Weight
		}
		if entry.Mitigation != "" {
			rule.Mitigation = entry.Mitigation
		}
		out = append(out, rule)
	}

	for id := range overrides {
		return nil, fmt.Errorf("rule pack references unknown rule %q", id)
	}
	return &RuleBase{rules: out}, nil
}
