package topic

const (
	// Wildcard matches one topic level. Athena uses it in the id position,
	// e.g. "athena/v1/identification/+" receives every camera.
	Wildcard = "+"

	// SharePrefix marks an MQTT 5 shared subscription. Replicas in one group
	// split the inbound events between them.
	SharePrefix = "$share"
)
