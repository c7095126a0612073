// Package notify delivers incident reports and deployment hints to
// external collaborators. The core only produces the structured payloads;
// vendor-specific formatting belongs to the receiving side.
package notify

import (
	"context"
	"log/slog"

	"github.com/vigilstack/incident-correlator/internal/models"
)

// Notifier publishes the outbound incident artifacts.
type Notifier interface {
	PublishReport(ctx context.Context, report models.IncidentReport) error
	PublishDeploymentHint(ctx context.Context, hint models.DeploymentHint) error
	Close() error
}

// LogNotifier writes reports to the structured log. It is the fallback
// when no messaging backend is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// PublishReport logs the report summary.
func (n *LogNotifier) PublishReport(_ context.Context, report models.IncidentReport) error {
	n.logger.Info("incident report",
		slog.String("incident_id", report.IncidentID),
		slog.String("service", report.Service),
		slog.String("state", string(report.State)),
		slog.Int("candidate_signals", report.CandidateSignalCount),
		slog.Int("ranked_causes", len(report.RankedCauses)),
		slog.Bool("diagnosis_complete", report.DiagnosisComplete),
		slog.String("summary", report.Summary),
	)
	return nil
}

// PublishDeploymentHint logs the code-review hint.
func (n *LogNotifier) PublishDeploymentHint(_ context.Context, hint models.DeploymentHint) error {
	n.logger.Info("deployment correlation hint",
		slog.String("incident_id", hint.IncidentID),
		slog.String("service", hint.Service),
		slog.String("commit", hint.Commit),
		slog.String("repository", hint.Repository),
	)
	return nil
}

// Close is a no-op.
func (n *LogNotifier) Close() error { return nil }
