package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Notification describes a price drop for one subscription.
type Notification struct {
	Product    string    `json:"product"`
	URL        string    `json:"url"`
	Price      float64   `json:"price"`
	Target     float64   `json:"target"`
	Email      string    `json:"email"`
	Preference string    `json:"alert_preference"`
	At         time.Time `json:"at"`
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Evaluator decides whether an observed price triggers an alert for a
// subscription and emits it.
type Evaluator struct {
	logger *zap.Logger
	mgr    *Manager
}

// NewEvaluator creates an evaluator that logs every alert and fans out
// to mgr's notifiers.
func NewEvaluator(logger *zap.Logger, mgr *Manager) *Evaluator {
	if mgr == nil {
		mgr = NewManager(nil)
	}
	return &Evaluator{logger: logger, mgr: mgr}
}

// Check fires when the observed price is at or below the subscription
// target (boundary inclusive). It fires again on every cycle while the
// price stays below target; there is no suppression window. Returns
// whether an alert was emitted.
func (e *Evaluator) Check(ctx context.Context, n *Notification) bool {
	if n.Price > n.Target {
		return false
	}

	e.logger.Info("price alert",
		zap.String("product", n.Product),
		zap.String("url", n.URL),
		zap.Float64("price", n.Price),
		zap.Float64("target", n.Target),
		zap.String("email", n.Email),
		zap.String("preference", n.Preference))

	if e.mgr.HasNotifiers() {
		if err := e.mgr.Broadcast(ctx, n); err != nil {
			e.logger.Warn("alert delivery", zap.String("product", n.Product), zap.Error(err))
		}
	}
	return true
}
