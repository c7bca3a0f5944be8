package devices

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/voice-client-exp/internal/otel"
)

var (
	refreshes       metric.Int64Counter
	selectionsSaved metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("voiceclient.devices", intotel.PrefixDevices)

	f.Int64Counter(&refreshes, "refreshes",
		metric.WithDescription("Device enumerations performed"))

	f.Int64Counter(&selectionsSaved, "selections.saved",
		metric.WithDescription("Device selections persisted"))
}
