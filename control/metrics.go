package control

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/voice-client-exp/internal/otel"
)

var (
	joinsFailed      metric.Int64Counter
	deviceSelections metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("voiceclient.control", intotel.PrefixControl)

	f.Int64Counter(&joinsFailed, "joins.failed",
		metric.WithDescription("Join requests rejected by the coordinator"))

	f.Int64Counter(&deviceSelections, "devices.selections",
		metric.WithDescription("Device selections made through the control API"))
}
