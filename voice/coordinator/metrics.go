package coordinator

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/voice-client-exp/internal/otel"
)

var (
	joinsStarted      metric.Int64Counter
	reconnectsStarted metric.Int64Counter
	keepAlivesSent    metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("voiceclient.coordinator", intotel.PrefixCoordinator)

	f.Int64Counter(&joinsStarted, "joins.started",
		metric.WithDescription("Channel joins initiated"))

	f.Int64Counter(&reconnectsStarted, "reconnects.started",
		metric.WithDescription("Reconnect cycles started after a lost session"))

	f.Int64Counter(&keepAlivesSent, "keepalives.sent",
		metric.WithDescription("Voice state keep-alive broadcasts sent"))
}
