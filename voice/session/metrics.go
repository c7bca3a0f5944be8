package session

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/voice-client-exp/internal/otel"
)

var (
	connectsStarted   metric.Int64Counter
	connectsSucceeded metric.Int64Counter
	connectsFailed    metric.Int64Counter
	sessionDrops      metric.Int64Counter
	micRestarts       metric.Int64Counter
	micFailures       metric.Int64Counter
	consumersActive   metric.Int64UpDownCounter
)

func init() {
	f := intotel.NewFactory("voiceclient.session", intotel.PrefixSession)

	f.Int64Counter(&connectsStarted, "connects.started",
		metric.WithDescription("Media session connection attempts started"))

	f.Int64Counter(&connectsSucceeded, "connects.succeeded",
		metric.WithDescription("Media session connection attempts that completed"))

	f.Int64Counter(&connectsFailed, "connects.failed",
		metric.WithDescription("Media session connection attempts that failed"))

	f.Int64Counter(&sessionDrops, "drops",
		metric.WithDescription("Live media sessions lost to signaling channel death"))

	f.Int64Counter(&micRestarts, "mic.restarts",
		metric.WithDescription("Microphone captures restarted on a live session"))

	f.Int64Counter(&micFailures, "mic.failures",
		metric.WithDescription("Microphone captures that failed and degraded to muted"))

	f.Int64UpDownCounter(&consumersActive, "consumers.active",
		metric.WithDescription("Remote consumers currently materialized"))
}
