// Package notify delivers security alerts to administrators.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/reputation"
)

var (
	_ reputation.Notifier = (*LogNotifier)(nil)
	_ reputation.Notifier = Multi(nil)
)

// LogNotifier writes alerts to the structured log. It is the fallback when
// no delivery channel is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

// Notify logs alert.
func (n *LogNotifier) Notify(_ context.Context, alert domain.SecurityAlert) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.L()
	}
	logger.Warn("admin security notification",
		zap.String("alert_id", alert.ID),
		zap.String("alert_type", alert.AlertType),
		zap.String("severity", string(alert.Severity)),
		zap.String("message", alert.Message),
		zap.Any("context", alert.Context),
	)
	return nil
}

// Multi fans an alert out to every notifier concurrently. All notifiers
// run even when some fail.
type Multi []reputation.Notifier

// Notify delivers alert through every channel.
func (m Multi) Notify(ctx context.Context, alert domain.SecurityAlert) error {
	var g errgroup.Group
	errs := make([]error, len(m))
	for i, n := range m {
		i, n := i, n
		g.Go(func() error {
			errs[i] = n.Notify(ctx, alert)
			return nil
		})
	}
	_ = g.Wait()

	var msgs []string
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("notify: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Subject is the notification subject line for alert.
func Subject(alert domain.SecurityAlert) string {
	return "[SECURITY ALERT] " + alert.AlertType
}
