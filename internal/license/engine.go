package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	apperrors "licenselock/internal/errors"
)

// maxConflictRounds bounds re-evaluation after a lost activation race. A
// record only leaves the unredeemed state once unless an administrator resets
// it, so more than a couple of rounds means something is resetting in a loop.
const maxConflictRounds = 3

// Engine evaluates, suspends, provisions and lists license records.
type Engine struct {
	store     Store
	authority Authority
	generator *Generator
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	now       func() time.Time

	flights singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTracer sets the tracer used for engine spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithMetrics sets the engine instruments.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithGenerator sets the key generator used by Provision.
func WithGenerator(g *Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine over store. A nil authority rejects every
// identifier the store does not already hold.
func NewEngine(store Store, authority Authority, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		authority: authority,
		generator: NewGenerator(DefaultKeyFormat()),
		logger:    slog.Default(),
		tracer:    otel.Tracer(TracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "license_engine"))
	return e
}

// Evaluate decides whether deviceID may use identifier, activating the
// license on first use.
func (e *Engine) Evaluate(ctx context.Context, identifier, deviceID string) (Verdict, error) {
	identifier = strings.TrimSpace(identifier)
	deviceID = strings.TrimSpace(deviceID)
	if identifier == "" || deviceID == "" {
		return Verdict{}, fmt.Errorf("%w: license key and device id are required", apperrors.ErrBadRequest)
	}

	ctx, span := e.tracer.Start(ctx, "license.Evaluate",
		trace.WithAttributes(attribute.String("license.hash", hashLicenseKey(identifier))))
	defer span.End()

	start := e.now()
	verdict, err := e.evaluate(ctx, identifier, deviceID)
	e.metrics.recordEvaluation(ctx, verdict, err, e.now().Sub(start))

	attrs := append(licenseAttrs(identifier), slog.String("device_hash", hashLicenseKey(deviceID)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		e.logError(ctx, "evaluate", "License evaluation failed", append(attrs, slog.String("error", err.Error()))...)
		return Verdict{}, err
	}

	span.SetAttributes(
		attribute.String("license.reason", string(verdict.Reason)),
		attribute.Bool("license.valid", verdict.Valid),
	)
	e.logInfo(ctx, "evaluate", "License evaluated",
		append(attrs, slog.String("reason", string(verdict.Reason)), slog.Bool("valid", verdict.Valid))...)
	return verdict, nil
}

func (e *Engine) evaluate(ctx context.Context, identifier, deviceID string) (Verdict, error) {
	rec, err := e.store.Get(ctx, identifier)
	switch {
	case errors.Is(err, ErrNotFound):
		var known bool
		rec, known, err = e.materialize(ctx, identifier)
		if err != nil {
			return Verdict{}, err
		}
		if !known {
			return verdictInvalidKey, nil
		}
	case err != nil:
		return Verdict{}, e.storeError(ctx, "get", err)
	}

	for round := 1; ; round++ {
		if rec.Suspended {
			return verdictSuspended, nil
		}

		if rec.Locked() {
			if rec.BoundTo(deviceID) {
				return verdictAlreadyBound, nil
			}
			return verdictBoundToOtherDevice, nil
		}

		_, err := e.store.CompareAndSetActivation(ctx, identifier, StateUnredeemed, StateLocked, deviceID, e.now())
		if err == nil {
			e.logInfo(ctx, "activate", "License activated", licenseAttrs(identifier)...)
			return verdictActivated, nil
		}
		if !errors.Is(err, ErrConflict) {
			if errors.Is(err, ErrNotFound) {
				return verdictInvalidKey, nil
			}
			return Verdict{}, e.storeError(ctx, "activate", err)
		}
		if round >= maxConflictRounds {
			return Verdict{}, e.storeError(ctx, "activate", err)
		}

		// Another evaluation won the transition; judge against what it wrote.
		rec, err = e.store.Get(ctx, identifier)
		if errors.Is(err, ErrNotFound) {
			return verdictInvalidKey, nil
		}
		if err != nil {
			return Verdict{}, e.storeError(ctx, "get", err)
		}
	}
}

type materialized struct {
	rec   Record
	known bool
}

// materialize consults the authority for an identifier the store missed and
// inserts an unredeemed record when the authority vouches for it. Concurrent
// callers for the same identifier share one flight. A caller whose context
// ends stops waiting; the flight itself runs to completion.
func (e *Engine) materialize(ctx context.Context, identifier string) (Record, bool, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := e.flights.DoChan(identifier, func() (any, error) {
		return e.verifyAndInsert(flightCtx, identifier)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Record{}, false, res.Err
		}
		m := res.Val.(materialized)
		return m.rec, m.known, nil
	case <-ctx.Done():
		return Record{}, false, fmt.Errorf("waiting for authority verdict: %w", ctx.Err())
	}
}

func (e *Engine) verifyAndInsert(ctx context.Context, identifier string) (materialized, error) {
	// A previous flight may have inserted the record after our caller's miss.
	rec, err := e.store.Get(ctx, identifier)
	if err == nil {
		return materialized{rec: rec, known: true}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return materialized{}, e.storeError(ctx, "get", err)
	}

	if !e.verify(ctx, identifier) {
		return materialized{}, nil
	}

	rec, err = e.store.InsertIfAbsent(ctx, NewRecord(identifier, OriginAuthority, e.now()))
	if errors.Is(err, ErrAlreadyExists) {
		rec, err = e.store.Get(ctx, identifier)
	}
	if err != nil {
		return materialized{}, e.storeError(ctx, "insert", err)
	}

	e.logInfo(ctx, "materialize", "License record created from authority verdict", licenseAttrs(identifier)...)
	return materialized{rec: rec, known: true}, nil
}

// verify asks the authority once. Failures count as a negative verdict.
func (e *Engine) verify(ctx context.Context, identifier string) bool {
	if e.authority == nil {
		e.metrics.recordAuthorityCall(ctx, "disabled")
		return false
	}

	ctx, span := e.tracer.Start(ctx, "license.authority.Verify")
	defer span.End()

	genuine, err := e.authority.Verify(ctx, identifier)
	if err != nil {
		err = fmt.Errorf("%w: %w", apperrors.ErrAuthorityUnavailable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "authority unavailable")
		e.metrics.recordAuthorityCall(ctx, "error")
		e.logWarn(ctx, "authority_verify", "Authority unavailable, rejecting license",
			append(licenseAttrs(identifier), slog.String("error", err.Error()))...)
		return false
	}

	result := "rejected"
	if genuine {
		result = "genuine"
	}
	span.SetAttributes(attribute.Bool("license.genuine", genuine))
	e.metrics.recordAuthorityCall(ctx, result)
	return genuine
}

// Suspend sets the suspension flag on identifier. found is false when no such
// record exists. Callers must have authorized the request.
func (e *Engine) Suspend(ctx context.Context, identifier string) (found bool, err error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false, fmt.Errorf("%w: license key is required", apperrors.ErrBadRequest)
	}

	ctx, span := e.tracer.Start(ctx, "license.Suspend")
	defer span.End()

	_, err = e.store.SetSuspended(ctx, identifier, e.now())
	switch {
	case errors.Is(err, ErrNotFound):
		e.metrics.recordSuspension(ctx, false)
		e.logWarn(ctx, "suspend", "Suspension target not found", licenseAttrs(identifier)...)
		return false, nil
	case err != nil:
		return false, e.storeError(ctx, "suspend", err)
	}

	e.metrics.recordSuspension(ctx, true)
	e.logInfo(ctx, "suspend", "License suspended", licenseAttrs(identifier)...)
	return true, nil
}

// Reset returns identifier to the unredeemed state so a new device can claim
// it. The suspension flag survives unless clearSuspension is set. Callers
// must have authorized the request with the reset secret.
func (e *Engine) Reset(ctx context.Context, identifier string, clearSuspension bool) (found bool, err error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false, fmt.Errorf("%w: license key is required", apperrors.ErrBadRequest)
	}

	ctx, span := e.tracer.Start(ctx, "license.Reset")
	defer span.End()

	_, err = e.store.Reset(ctx, identifier, clearSuspension)
	switch {
	case errors.Is(err, ErrNotFound):
		e.metrics.recordReset(ctx, false)
		return false, nil
	case err != nil:
		return false, e.storeError(ctx, "reset", err)
	}

	e.metrics.recordReset(ctx, true)
	e.logInfo(ctx, "reset", "License reset",
		append(licenseAttrs(identifier), slog.Bool("clear_suspension", clearSuspension))...)
	return true, nil
}

// Ping checks the record store.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, apperrors.ErrStoreUnavailable) {
		return err
	}
	e.metrics.recordStoreError(ctx, op)
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrStoreUnavailable, err)
}
