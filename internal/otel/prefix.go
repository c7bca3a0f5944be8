package otel

// Metric prefixes for each subsystem
// Each package should define its own metric names and use these prefixes
const (
	PrefixSignaling   = "signaling"
	PrefixSession     = "session"
	PrefixCoordinator = "coordinator"
	PrefixGateway     = "gateway"
	PrefixDevices     = "devices"
	PrefixControl     = "control"
)
