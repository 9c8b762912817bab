// Package metrics holds the helpers used to tag and increment the
// attestation service's counters.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// AttrOK tags an operation that completed.
	AttrOK = attribute.Key("status").String("ok")
	// AttrError tags an operation that failed.
	AttrError = attribute.Key("status").String("error")

	// AttrAccepted tags a verification that passed all checks.
	AttrAccepted = attribute.Key("verdict").String("accepted")
	// AttrRejected tags a verification that failed a check. A rejection is a
	// business outcome, not an error.
	AttrRejected = attribute.Key("verdict").String("rejected")
)

// MetricIncrCounter increments m by 1, tagged AttrOK or AttrError depending
// on err.
func MetricIncrCounter(ctx context.Context, err error, m metric.Int64Counter, labels ...attribute.KeyValue) {
	attr := AttrOK
	if err != nil {
		attr = AttrError
	}
	m.Add(ctx, 1, append(labels, attr)...)
}

// MetricIncrVerdict increments m by 1, tagged AttrAccepted or AttrRejected.
func MetricIncrVerdict(ctx context.Context, accepted bool, m metric.Int64Counter, labels ...attribute.KeyValue) {
	attr := AttrAccepted
	if !accepted {
		attr = AttrRejected
	}
	m.Add(ctx, 1, append(labels, attr)...)
}
