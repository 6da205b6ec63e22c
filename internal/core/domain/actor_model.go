package domain

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_SERIAL       = "serial"
	ACTOR_ID_CHARGE_LIMIT = "charge_limit"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_MODBUS       = "modbus"
	ACTOR_ID_SCHEDULE     = "schedule"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// Serial port

type SerialDataEvent struct {
	Data []byte
}

type SerialWriteRequest struct {
	ActorRequestMixIn
	Data []byte
}

type SerialWriteResponse struct {
	ActorResponseMixIn
}

type SerialFailureEvent struct {
	Error error
}

// MQTT

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// Health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
