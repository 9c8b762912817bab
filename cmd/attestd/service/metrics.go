package service

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
)

var prefix = "attestd"

var meter = metric.Must(global.Meter(prefix))

func (s *Service) initMetrics() {
	s.metricVerifications = meter.NewInt64Counter(prefix + ".verifications_total")
	s.metricUnreadable = meter.NewInt64Counter(prefix + ".unreadable_documents_total")
	s.metricBidsCreated = meter.NewInt64Counter(prefix + ".bids_created_total")
	s.metricProofs = meter.NewInt64Counter(prefix + ".proofs_recorded_total")
	s.metricResolves = meter.NewInt64Counter(prefix + ".code_resolves_total")
	s.metricApprovals = meter.NewInt64Counter(prefix + ".approvals_total")
}
