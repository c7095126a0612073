package engine

import (
	"fmt"

	"github.com/vigilstack/incident-correlator/internal/models"
)

// BuildReport projects an incident into the structured report handed to
// the external notification collaborator. Empty or partial diagnoses are
// stated explicitly, never omitted, so responders know automation found
// nothing rather than assuming no cause exists.
func BuildReport(incident models.Incident) models.IncidentReport {
	report := models.IncidentReport{
		IncidentID:           incident.ID,
		Service:              incident.Trigger.Service,
		TriggerSummary:       triggerSummary(incident.Trigger),
		State:                incident.State,
		OpenedAt:             incident.OpenedAt,
		CandidateSignalCount: len(incident.CandidateSignals),
		Notes:                incident.Notes,
		DiagnosisComplete:    incident.DiagnosisComplete,
	}

	for _, cause := range incident.RankedCauses {
		report.RankedCauses = append(report.RankedCauses, models.RankedCauseSummary{
			RuleID:                cause.RuleID,
			Explanation:           cause.Explanation,
			Confidence:            cause.Confidence,
			SupportingSignalCount: len(cause.SupportingSignals),
			RecommendedMitigation: cause.RecommendedMitigation,
		})
		report.RecommendedMitigations = appendUnique(report.RecommendedMitigations, cause.RecommendedMitigation)
	}

	switch {
	case len(incident.RankedCauses) == 0:
		report.Summary = models.NoHypothesisSummary
	default:
		top := incident.RankedCauses[0]
		report.Summary = fmt.Sprintf("%s (confidence %.2f): %s", top.RuleID, top.Confidence, top.Explanation)
	}
	if !incident.DiagnosisComplete {
		report.Summary += " [diagnosis partial]"
	}
	return report
}

// DeploymentHint extracts the code-review hint when the top hypothesis is
// a deployment regression. The second return is false when no hint applies.
func DeploymentHint(incident models.Incident) (models.DeploymentHint, bool) {
	if len(incident.RankedCauses) == 0 {
		return models.DeploymentHint{}, false
	}
	top := incident.RankedCauses[0]
	if top.RuleID != "deployment-regression" {
		return models.DeploymentHint{}, false
	}

	// Most recent supporting deployment wins when several are present.
	var deploy *models.Signal
	for i := range top.SupportingSignals {
		sig := &top.SupportingSignals[i]
		if sig.Kind != models.KindDeployment {
			continue
		}
		if deploy == nil || sig.Timestamp.After(deploy.Timestamp) {
			deploy = sig
		}
	}
	if deploy == nil {
		return models.DeploymentHint{}, false
	}

	return models.DeploymentHint{
		IncidentID: incident.ID,
		Service:    deploy.Service,
		Commit:     deploy.Attr("commit"),
		Repository: deploy.Attr("repository"),
	}, true
}

func triggerSummary(trigger models.Signal) string {
	summary := fmt.Sprintf("%s alarm on %s", trigger.Severity, trigger.Service)
	if metric := trigger.Attr("metric"); metric != "" {
		summary += " (" + metric + ")"
	}
	return summary
}

func appendUnique(existing []string, addition string) []string {
	if addition == "" {
		return existing
	}
	for _, item := range existing {
		if item == addition {
			return existing
		}
	}
	return append(existing, addition)
}
