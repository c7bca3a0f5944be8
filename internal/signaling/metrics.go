package signaling

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/voice-client-exp/internal/otel"
)

var (
	requestsSent   metric.Int64Counter
	requestsFailed metric.Int64Counter
	pushesReceived metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("voiceclient.signaling", intotel.PrefixSignaling)

	f.Int64Counter(&requestsSent, "requests.sent",
		metric.WithDescription("Total signaling requests sent"))

	f.Int64Counter(&requestsFailed, "requests.failed",
		metric.WithDescription("Total signaling requests that failed to send"))

	f.Int64Counter(&pushesReceived, "pushes.received",
		metric.WithDescription("Total push events received from the signaling server"))
}
