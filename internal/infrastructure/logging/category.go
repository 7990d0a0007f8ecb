package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	IO              Category = "IO"
	Internal        Category = "Internal"
	Redis           Category = "Redis"
	RabbitMQ        Category = "RabbitMQ"
	Postgres        Category = "Postgres"
	MongoDB         Category = "MongoDB"
	NATS            Category = "NATS"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
	Presence        Category = "Presence"
	Processor       Category = "Processor"
	Fanout          Category = "Fanout"
	Websocket       Category = "Websocket"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"

	// Presence
	Connect     SubCategory = "Connect"
	Disconnect  SubCategory = "Disconnect"
	Subscribe   SubCategory = "Subscribe"
	Unsubscribe SubCategory = "Unsubscribe"

	// Queue
	Publish    SubCategory = "Publish"
	Consume    SubCategory = "Consume"
	Retry      SubCategory = "Retry"
	DeadLetter SubCategory = "DeadLetter"

	// Processor
	Command  SubCategory = "Command"
	Rejected SubCategory = "Rejected"

	// Store
	Migration SubCategory = "Migration"
	Select    SubCategory = "Select"
	Insert    SubCategory = "Insert"
)

const (
	AppName        ExtraKey = "AppName"
	LoggerName     ExtraKey = "Logger"
	ClientIp       ExtraKey = "ClientIp"
	HostIp         ExtraKey = "HostIp"
	Method         ExtraKey = "Method"
	StatusCode     ExtraKey = "StatusCode"
	BodySize       ExtraKey = "BodySize"
	Path           ExtraKey = "Path"
	Latency        ExtraKey = "Latency"
	RequestBody    ExtraKey = "RequestBody"
	ResponseBody   ExtraKey = "ResponseBody"
	ErrorMessage   ExtraKey = "ErrorMessage"
	Identity       ExtraKey = "Identity"
	ConnectionID   ExtraKey = "ConnectionId"
	RoomID         ExtraKey = "RoomId"
	CommandType    ExtraKey = "CommandType"
	SubscriptionID ExtraKey = "SubscriptionId"
	Destination    ExtraKey = "Destination"
	Queue          ExtraKey = "Queue"
	Attempt        ExtraKey = "Attempt"
)
