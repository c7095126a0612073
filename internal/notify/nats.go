package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vigilstack/incident-correlator/internal/models"
)

// NATSConfig holds connection parameters for the NATS notifier.
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	Timeout       time.Duration
	ReconnectWait time.Duration
}

// NATSNotifier publishes reports to `<prefix>.report.<service>` and
// deployment hints to `<prefix>.hint.deploy`.
type NATSNotifier struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSNotifier connects to the configured NATS server.
func NewNATSNotifier(cfg NATSConfig, logger *slog.Logger) (*NATSNotifier, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "incident-correlator"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "incident"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATSNotifier{conn: conn, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

// PublishReport publishes the report JSON keyed by trigger service.
func (n *NATSNotifier) PublishReport(ctx context.Context, report models.IncidentReport) error {
	subject := fmt.Sprintf("%s.report.%s", n.prefix, report.Service)
	return n.publishJSON(ctx, subject, report)
}

// PublishDeploymentHint publishes the code-review hint.
func (n *NATSNotifier) PublishDeploymentHint(ctx context.Context, hint models.DeploymentHint) error {
	return n.publishJSON(ctx, n.prefix+".hint.deploy", hint)
}

func (n *NATSNotifier) publishJSON(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection.
func (n *NATSNotifier) Close() error {
	return n.conn.Drain()
}
