// Package reputation scores client addresses from observed security events
// and raises alerts when abuse thresholds are crossed.
package reputation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/smallbiznis/admin-guard/internal/domain"
	"github.com/smallbiznis/admin-guard/internal/obs"
	"github.com/smallbiznis/admin-guard/internal/repository"
)

const (
	DefaultFailedLoginThreshold    = 5
	DefaultSuspiciousActivityScore = 75
	DefaultBruteForceThreshold     = 10

	DecayRate      = 0.95
	FailurePenalty = 15.0
	SuccessBonus   = 2.0
	InitialScore   = 50.0
	MaxScore       = 100.0
	Retention      = 30 * 24 * time.Hour

	maxBackoff    = time.Hour
	notifyTimeout = 5 * time.Second
)

// Thresholds controls when alerts fire.
type Thresholds struct {
	FailedLoginAttempts     int `json:"failedLoginAttempts"`
	SuspiciousActivityScore int `json:"suspiciousActivityScore"`
	BruteForceAttempts      int `json:"bruteForceAttempts"`
}

// DefaultThresholds returns the stock alerting thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FailedLoginAttempts:     DefaultFailedLoginThreshold,
		SuspiciousActivityScore: DefaultSuspiciousActivityScore,
		BruteForceAttempts:      DefaultBruteForceThreshold,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.FailedLoginAttempts <= 0 {
		t.FailedLoginAttempts = d.FailedLoginAttempts
	}
	if t.SuspiciousActivityScore <= 0 {
		t.SuspiciousActivityScore = d.SuspiciousActivityScore
	}
	if t.BruteForceAttempts <= 0 {
		t.BruteForceAttempts = d.BruteForceAttempts
	}
	return t
}

// Event is one observed security event.
type Event struct {
	EventType string
	Severity  domain.Severity
	Status    domain.EventStatus
	IP        string
	UserID    string
	Email     string
	UserAgent string
	Metadata  map[string]any
}

// Outcome reports the state after an event was processed. Reputation is
// nil when the reputation store could not be used.
type Outcome struct {
	Reputation *domain.IPReputation
	Alerts     []domain.SecurityAlert
}

// Notifier delivers high-severity alerts to administrators.
type Notifier interface {
	Notify(ctx context.Context, alert domain.SecurityAlert) error
}

// Deps are the collaborators of an Engine. Notifier may be nil.
type Deps struct {
	Events      repository.SecurityEventStore
	Alerts      repository.AlertStore
	Reputations repository.ReputationStore
	Notifier    Notifier
	Node        *snowflake.Node
	Logger      *zap.Logger
	Tracer      trace.Tracer
}

// Engine processes security events.
type Engine struct {
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	thresholds Thresholds
}

// NewEngine constructs an Engine.
func NewEngine(deps Deps, thresholds Thresholds) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/smallbiznis/admin-guard/reputation")
	}
	return &Engine{deps: deps, logger: logger, tracer: tracer, now: time.Now, thresholds: thresholds.withDefaults()}
}

// WithClock overrides the engine clock.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Thresholds returns the active thresholds.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// LogEvent persists ev, updates the reputation of its address and raises
// any alerts the updated record warrants. Store failures are logged and do
// not propagate.
func (e *Engine) LogEvent(ctx context.Context, ev Event) Outcome {
	ctx, span := e.tracer.Start(ctx, "reputation.LogEvent", trace.WithAttributes(
		attribute.String("security.event_type", ev.EventType),
		attribute.String("security.status", string(ev.Status)),
	))
	defer span.End()

	if ev.Severity == "" {
		ev.Severity = domain.SeverityLow
	}
	now := e.now()
	e.persistEvent(ctx, ev, now)

	rep, err := e.updateReputation(ctx, ev, now)
	if err != nil {
		span.RecordError(err)
		e.logger.Error("failed to update ip reputation", zap.String("ip", ev.IP), zap.Error(err))
		return Outcome{}
	}

	out := Outcome{Reputation: rep}
	for _, alert := range e.evaluate(ev, *rep, now) {
		e.raise(ctx, alert)
		out.Alerts = append(out.Alerts, alert)
	}
	return out
}

// Reputation returns the stored record for ip, if any.
func (e *Engine) Reputation(ctx context.Context, ip string) (*domain.IPReputation, error) {
	rep, err := e.deps.Reputations.Get(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("get reputation: %w", err)
	}
	return rep, nil
}

// ListAlerts returns persisted alerts.
func (e *Engine) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]domain.SecurityAlert, error) {
	out, err := e.deps.Alerts.ListAlerts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

func (e *Engine) persistEvent(ctx context.Context, ev Event, now time.Time) {
	fields := []zap.Field{
		zap.String("event_type", ev.EventType),
		zap.String("status", string(ev.Status)),
		zap.String("severity", string(ev.Severity)),
		zap.String("ip", ev.IP),
		zap.String("user_id", ev.UserID),
		zap.String("email", ev.Email),
	}
	if ce := e.logger.Check(levelFor(ev.Severity), "security event"); ce != nil {
		ce.Write(fields...)
	}

	if e.deps.Events == nil {
		return
	}
	record := domain.SecurityEvent{
		ID:        e.newID(),
		Timestamp: now.UTC(),
		EventType: ev.EventType,
		Severity:  ev.Severity,
		UserID:    ev.UserID,
		Email:     ev.Email,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
		Metadata:  ev.Metadata,
		Status:    ev.Status,
	}
	if err := e.deps.Events.InsertEvent(ctx, record); err != nil {
		e.logger.Error("failed to persist security event", append(fields, zap.Error(err))...)
	}
}

func (e *Engine) updateReputation(ctx context.Context, ev Event, now time.Time) (*domain.IPReputation, error) {
	rep, err := e.deps.Reputations.Get(ctx, ev.IP)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		rep = &domain.IPReputation{IP: ev.IP, Score: InitialScore, FirstSeen: now, LastSeen: now}
	}
	*rep = Apply(*rep, ev.Status, now)
	if err := e.deps.Reputations.Put(ctx, *rep, Retention); err != nil {
		return nil, err
	}
	e.logger.Debug("ip reputation updated", zap.String("ip", rep.IP), zap.Float64("score", rep.Score))
	return rep, nil
}

// Apply decays rep once if it was last seen on an earlier day and then
// applies the delta for status.
func Apply(rep domain.IPReputation, status domain.EventStatus, now time.Time) domain.IPReputation {
	if !sameDay(rep.LastSeen, now) {
		rep.Score = math.Max(0, rep.Score*DecayRate)
	}
	if status == domain.StatusFailure {
		rep.Score = math.Max(0, rep.Score-FailurePenalty)
		rep.FailedAttempts++
	} else {
		rep.Score = math.Min(MaxScore, rep.Score+SuccessBonus)
	}
	rep.LastSeen = now
	rep.LastEventTimestamp = now
	return rep
}

func (e *Engine) evaluate(ev Event, rep domain.IPReputation, now time.Time) []domain.SecurityAlert {
	t := e.Thresholds()
	var alerts []domain.SecurityAlert
	base := map[string]any{
		"eventType": ev.EventType,
		"ip":        ev.IP,
		"status":    string(ev.Status),
	}
	if ev.UserID != "" {
		base["userId"] = ev.UserID
	}
	if ev.Email != "" {
		base["email"] = ev.Email
	}

	if ev.EventType == domain.EventLoginAttempt && ev.Status == domain.StatusFailure && rep.FailedAttempts >= t.FailedLoginAttempts {
		alerts = append(alerts, e.alert(domain.AlertFailedLoginThreshold, domain.SeverityHigh,
			fmt.Sprintf("Multiple failed login attempts from IP: %s", ev.IP),
			with(base, "failedAttempts", rep.FailedAttempts), now))
	}
	if rep.Score <= float64(100-t.SuspiciousActivityScore) {
		alerts = append(alerts, e.alert(domain.AlertSuspiciousIP, domain.SeverityMedium,
			fmt.Sprintf("Suspicious activity detected from IP: %s (Score: %g)", ev.IP, rep.Score),
			with(base, "reputationScore", rep.Score), now))
	}
	if rep.FailedAttempts >= t.BruteForceAttempts {
		alerts = append(alerts, e.alert(domain.AlertBruteForce, domain.SeverityCritical,
			fmt.Sprintf("Potential brute force attack from IP: %s", ev.IP),
			with(base, "failedAttempts", rep.FailedAttempts), now))
	}
	return alerts
}

func (e *Engine) alert(alertType string, sev domain.Severity, msg string, details map[string]any, now time.Time) domain.SecurityAlert {
	return domain.SecurityAlert{
		ID:        e.newID(),
		AlertType: alertType,
		Message:   msg,
		Severity:  sev,
		Context:   details,
		Timestamp: now.UTC(),
	}
}

func (e *Engine) raise(ctx context.Context, alert domain.SecurityAlert) {
	obs.SecurityAlert(alert.AlertType, string(alert.Severity))
	level := zapcore.WarnLevel
	if alert.Severity == domain.SeverityCritical {
		level = zapcore.ErrorLevel
	}
	if ce := e.logger.Check(level, alert.Message); ce != nil {
		ce.Write(zap.String("alert_type", alert.AlertType), zap.String("severity", string(alert.Severity)))
	}

	if e.deps.Alerts != nil {
		if err := e.deps.Alerts.InsertAlert(ctx, alert); err != nil {
			e.logger.Error("failed to store security alert", zap.String("alert_type", alert.AlertType), zap.Error(err))
		}
	}

	if e.deps.Notifier == nil || (alert.Severity != domain.SeverityHigh && alert.Severity != domain.SeverityCritical) {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := e.deps.Notifier.Notify(nctx, alert); err != nil {
		e.logger.Error("failed to send admin notification", zap.String("alert_type", alert.AlertType), zap.Error(err))
	}
}

func (e *Engine) newID() string {
	if e.deps.Node == nil {
		return ""
	}
	return e.deps.Node.Generate().String()
}

// ExponentialBackoff returns base doubled per prior attempt, capped at an hour.
func ExponentialBackoff(attempts int, base time.Duration) time.Duration {
	if attempts <= 0 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func levelFor(sev domain.Severity) zapcore.Level {
	switch sev {
	case domain.SeverityCritical:
		return zapcore.ErrorLevel
	case domain.SeverityHigh:
		return zapcore.WarnLevel
	case domain.SeverityMedium:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func with(base map[string]any, k string, v any) map[string]any {
	out := make(map[string]any, len(base)+1)
	for key, val := range base {
		out[key] = val
	}
	out[k] = v
	return out
}
