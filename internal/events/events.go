// Package events publishes execution lifecycle events to NATS.
//
// Events are published to subjects:
//   - <prefix>.<tenant_id>.<execution_id>.queued
//   - <prefix>.<tenant_id>.<execution_id>.started
//   - <prefix>.<tenant_id>.<execution_id>.progress
//   - <prefix>.<tenant_id>.<execution_id>.completed
//   - <prefix>.<tenant_id>.<execution_id>.failed
//   - <prefix>.<tenant_id>.<execution_id>.cancelled
//
// The default prefix is "waypoint.executions". Dots in tenant ids are
// replaced with underscores so each id stays one subject token.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/config"
	"github.com/fyrsmithlabs/waypoint/internal/execution"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is used when the config leaves the prefix empty.
const DefaultSubjectPrefix = "waypoint.executions"

// Payload is the JSON body of every event.
type Payload struct {
	Event       execution.EventType `json:"event"`
	ExecutionID string              `json:"execution_id"`
	TenantID    string              `json:"tenant_id"`
	JourneyID   string              `json:"journey_id"`
	ProcessID   string              `json:"process_id"`
	State       execution.State     `json:"state"`
	Percent     *int                `json:"percent,omitempty"`
	Message     string              `json:"message,omitempty"`
	Error       string              `json:"error,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// Publisher implements execution.Notifier on a NATS connection. Publish
// failures are logged and dropped.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	owned  bool
}

var _ execution.Notifier = (*Publisher)(nil)

// NewPublisher wraps an existing connection. The caller keeps ownership of
// nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: strings.TrimSuffix(prefix, "."), logger: logger}
}

// Connect dials NATS from the events config. When events are disabled it
// returns execution.NopNotifier and a no-op closer.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (execution.Notifier, func(), error) {
	if !cfg.Enabled {
		return execution.NopNotifier{}, func() {}, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url,
		nats.Name("waypointd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("connected to NATS", zap.String("url", url))

	p := NewPublisher(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	return p, p.Close, nil
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(tenantID, executionID string, ev execution.EventType) string {
	return fmt.Sprintf("%s.%s.%s.%s", p.prefix, subjectToken(tenantID), subjectToken(executionID), ev)
}

// Notify publishes ev.
func (p *Publisher) Notify(_ context.Context, ev execution.Event) {
	exec := ev.Execution
	if exec == nil {
		return
	}

	payload := Payload{
		Event:       ev.Type,
		ExecutionID: exec.ID,
		TenantID:    exec.TenantID,
		JourneyID:   exec.JourneyID,
		ProcessID:   exec.ProcessID,
		State:       exec.State,
		Message:     ev.Message,
		Error:       exec.Error,
		Timestamp:   time.Now().UTC(),
	}
	if ev.Type == execution.EventProgress {
		percent := ev.Percent
		payload.Percent = &percent
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("marshal execution event", zap.Error(err))
		return
	}
	subject := p.Subject(exec.TenantID, exec.ID, ev.Type)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("publish execution event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// Close drains the connection if the publisher dialed it.
func (p *Publisher) Close() {
	if !p.owned || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s)
}
