package service

import (
	"context"
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/utafrali/authcore/pkg/errors"
	"github.com/utafrali/authcore/pkg/tracing"
)

var tracer = tracing.Tracer("github.com/utafrali/authcore/internal/service")

// Metrics holds the lifecycle collectors. A nil *Metrics records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewMetrics registers the lifecycle collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_notifications_total",
			Help: "Outbound notifications by kind and result",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(m.operations, m.notifications)
	return m
}

func (m *Metrics) operation(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) notification(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
}

// outcome is "success" or the lower-cased error code.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return strings.ToLower(appErr.Code)
	}
	return "error"
}

// begin opens a span for op. The returned func ends it and counts the outcome.
func (s *AuthService) begin(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "AuthService."+op)
	return ctx, func(err error) {
		result := outcome(err)
		span.SetAttributes(attribute.String("auth.outcome", result))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()
		s.metrics.operation(op, result)
	}
}
