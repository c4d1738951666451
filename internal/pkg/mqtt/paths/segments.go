package paths

// Topic segments of the Athena MQTT contract. Every topic is
// {root}/{segment}/{id}. Changing a value breaks existing publishers.

// Ingress: camera pipeline, officer devices and case management -> Athena.
const (
	// Identification carries a vehicle_identified payload.
	// Pattern: {root}/identification/{cameraID}
	Identification = "identification"

	// OfficerLocation carries an officer_location_update payload.
	// Pattern: {root}/officer/location/{officerID}
	OfficerLocation = "officer/location"

	// VehicleRegister carries a critical_vehicle_registered payload.
	// Pattern: {root}/vehicle/register/{vehicleID}
	VehicleRegister = "vehicle/register"

	// VehicleStatus carries a vehicle_status_changed payload.
	// Pattern: {root}/vehicle/status/{vehicleID}
	VehicleStatus = "vehicle/status"

	// AlertAck carries an alert_acknowledged payload.
	// Pattern: {root}/alert/ack/{officerID}
	AlertAck = "alert/ack"

	// Violation carries a violation_vehicle_registered payload. An empty
	// payload removes the plate.
	// Pattern: {root}/violation/{plate}
	Violation = "violation"
)

// Egress: Athena -> officers, dispatch center and downstream consumers.
const (
	// Events carries every outbound event; the id is the event type.
	// Pattern: {root}/events/{eventType}
	Events = "events"

	// OfficerAlert is the MQTT fallback channel for officer notifications.
	// Pattern: {root}/officer/alert/{officerID}
	OfficerAlert = "officer/alert"

	// ControlCritical carries critical-vehicle notifications to the dispatch center.
	// Pattern: {root}/control/critical/{vehicleID}
	ControlCritical = "control/critical"

	// Status is the retained online/offline flag of an Athena instance, set
	// through the MQTT will.
	// Pattern: {root}/status/{clientID}
	Status = "status"
)
