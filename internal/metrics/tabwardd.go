package metrics

// Daemon metric set. Registered on the default registry at init so every
// component increments the same instances.
var (
	// BridgeEvents counts bridge events accepted by the daemon.
	BridgeEvents = Default().Counter("tabward_bridge_events_total",
		"Bridge events accepted")

	// EventsDropped counts bridge events dropped by the tracker queue.
	EventsDropped = Default().Counter("tabward_events_dropped_total",
		"Bridge events dropped due to queue saturation")

	// UsageCommits counts successful usage writes.
	UsageCommits = Default().Counter("tabward_usage_commits_total",
		"Usage increments written to storage")

	// SecondsCommitted counts total seconds of usage persisted.
	SecondsCommitted = Default().Counter("tabward_usage_seconds_total",
		"Total seconds of usage persisted")

	// Warnings counts limit warnings delivered.
	Warnings = Default().Counter("tabward_warnings_total",
		"Limit warnings delivered")

	// Blocks counts executed block redirects.
	Blocks = Default().Counter("tabward_blocks_total",
		"Block redirects executed")

	// FastChecks counts projection-based limit check runs.
	FastChecks = Default().Counter("tabward_fast_checks_total",
		"Projection-based limit checks run")

	// StorageErrors counts failed storage writes.
	StorageErrors = Default().Counter("tabward_storage_errors_total",
		"Failed storage writes")

	// BridgeConnected is 1 while an extension bridge is connected.
	BridgeConnected = Default().Gauge("tabward_bridge_connected",
		"Whether an extension bridge is connected")
)
