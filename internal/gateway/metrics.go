package gateway

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/voice-client-exp/internal/otel"
)

var (
	eventsReceived metric.Int64Counter
	updatesSent    metric.Int64Counter
	reconnects     metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("voiceclient.gateway", intotel.PrefixGateway)

	f.Int64Counter(&eventsReceived, "events.received",
		metric.WithDescription("Gateway events received"))

	f.Int64Counter(&updatesSent, "updates.sent",
		metric.WithDescription("Voice state updates sent to the gateway"))

	f.Int64Counter(&reconnects, "reconnects",
		metric.WithDescription("Gateway connections dropped and re-dialed"))
}
