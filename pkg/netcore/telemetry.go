package netcore

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.opentelemetry.io/otel/metric/instrument/syncint64"
)

const instrumentationName = "github.com/jhamlin96/netavark/pkg/netcore"

// metrics holds the small set of operational counters an Orchestrator
// reports: how many setup and teardown calls succeeded or failed. These are
// deliberately coarse; anything finer belongs to a caller wrapping this
// package, not to the core itself.
type metrics struct {
	setupSuccesses    counter
	setupFailures     counter
	teardownSuccesses counter
	teardownFailures  counter
}

// counter wraps a syncint64 instrument so callers elsewhere in this package
// don't need a context.Context at every call site.
type counter struct {
	inst syncint64.Counter
}

func (c counter) Add(n int64) {
	if c.inst == nil {
		return
	}
	c.inst.Add(context.Background(), n)
}

func newMetrics() metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	setupOK, _ := meter.SyncInt64().Counter(
		"netavark.setup.success",
		instrument.WithDescription("Number of successful container network setup calls"),
	)
	setupErr, _ := meter.SyncInt64().Counter(
		"netavark.setup.failure",
		instrument.WithDescription("Number of failed container network setup calls"),
	)
	teardownOK, _ := meter.SyncInt64().Counter(
		"netavark.teardown.success",
		instrument.WithDescription("Number of successful container network teardown calls"),
	)
	teardownErr, _ := meter.SyncInt64().Counter(
		"netavark.teardown.failure",
		instrument.WithDescription("Number of failed container network teardown calls"),
	)

	return metrics{
		setupSuccesses:    counter{setupOK},
		setupFailures:     counter{setupErr},
		teardownSuccesses: counter{teardownOK},
		teardownFailures:  counter{teardownErr},
	}
}
