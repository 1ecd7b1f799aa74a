// Package otel bridges engine counters into an OpenTelemetry meter as
// observable instruments. Values are pulled from a snapshot on every
// collection; the engine itself stays free of exporter dependencies.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	authkit "github.com/neomarket/authkit"
)

// ErrNilMeter reports a missing meter.
var ErrNilMeter = errors.New("nil meter")

// ErrNilSource reports a missing metrics source.
var ErrNilSource = errors.New("nil metrics source")

type metricsSource interface {
	MetricsSnapshot() authkit.MetricsSnapshot
	MailDropped() uint64
}

type counterDef struct {
	id   authkit.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{authkit.MetricRegisterSuccess, "authkit_register_success_total", "Accounts created."},
	{authkit.MetricRegisterConflict, "authkit_register_conflict_total", "Registrations rejected for a taken email."},
	{authkit.MetricLoginSuccess, "authkit_login_success_total", "Completed logins."},
	{authkit.MetricLoginFailure, "authkit_login_failure_total", "Rejected logins."},
	{authkit.MetricChallengeIssued, "authkit_challenge_issued_total", "Second-factor challenges created."},
	{authkit.MetricChallengeSuccess, "authkit_challenge_success_total", "Second-factor challenges redeemed."},
	{authkit.MetricChallengeFailure, "authkit_challenge_failure_total", "Second-factor attempts rejected."},
	{authkit.MetricRefreshSuccess, "authkit_refresh_success_total", "Refresh token rotations."},
	{authkit.MetricRefreshFailure, "authkit_refresh_failure_total", "Rejected refresh attempts."},
	{authkit.MetricRefreshReuseDetected, "authkit_refresh_reuse_total", "Stale refresh tokens presented after rotation."},
	{authkit.MetricEmailVerifySuccess, "authkit_email_verify_success_total", "Verification proofs redeemed."},
	{authkit.MetricEmailVerifyFailure, "authkit_email_verify_failure_total", "Verification proofs rejected."},
	{authkit.MetricResetRequested, "authkit_reset_requested_total", "Password reset emails dispatched."},
	{authkit.MetricResetSuccess, "authkit_reset_success_total", "Password resets completed."},
	{authkit.MetricResetFailure, "authkit_reset_failure_total", "Password reset proofs rejected."},
	{authkit.MetricPasswordChanged, "authkit_password_changed_total", "Authenticated password changes."},
	{authkit.MetricFederatedLogin, "authkit_federated_login_total", "Logins through the federated bridge."},
	{authkit.MetricFederatedLinkCreated, "authkit_federated_link_created_total", "Provider links created."},
	{authkit.MetricSessionCreated, "authkit_session_created_total", "Refresh sessions established."},
	{authkit.MetricSessionInvalidated, "authkit_session_invalidated_total", "Sessions destroyed by the engine."},
}

type observedCounter struct {
	id         authkit.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter registers engine counters on a meter until Close.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	mailDropped  metric.Int64ObservableCounter
}

// NewExporter registers observable counters for an Engine.
func NewExporter(meter metric.Meter, engine *authkit.Engine) (*Exporter, error) {
	return newExporterFromSource(meter, engine)
}

func newExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(counterDefs)),
	}

	observables := make([]metric.Observable, 0, len(counterDefs)+1)

	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.id, instrument: ins})
		observables = append(observables, ins)
	}

	mailDropped, err := meter.Int64ObservableCounter(
		"authkit_mail_dropped_total",
		metric.WithDescription("Lifecycle emails dropped by dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create mail dropped counter: %w", err)
	}
	exporter.mailDropped = mailDropped
	observables = append(observables, mailDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		observer.ObserveInt64(exporter.mailDropped, int64(exporter.source.MailDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
