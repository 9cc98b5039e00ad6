package cdcsync

import (
	runtimepkg "github.com/drblury/cdcsync/internal/runtime"
	"github.com/drblury/cdcsync/internal/runtime/cdc"
	configpkg "github.com/drblury/cdcsync/internal/runtime/config"
	"github.com/drblury/cdcsync/internal/runtime/deadletter"
	errspkg "github.com/drblury/cdcsync/internal/runtime/errors"
	idspkg "github.com/drblury/cdcsync/internal/runtime/ids"
	"github.com/drblury/cdcsync/internal/runtime/latency"
	loggingpkg "github.com/drblury/cdcsync/internal/runtime/logging"
	"github.com/drblury/cdcsync/internal/runtime/sink"
	transportpkg "github.com/drblury/cdcsync/internal/runtime/transport"
	newtransport "github.com/drblury/cdcsync/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory
	TransportError      = runtimepkg.TransportError

	// Change pipeline
	Event        = cdc.Event
	Record       = cdc.Record
	Operation    = cdc.Operation
	DecodeError  = cdc.DecodeError
	Driver       = runtimepkg.Driver
	DriverConfig = runtimepkg.DriverConfig
	Outcome      = runtimepkg.Outcome
	Stage        = runtimepkg.Stage
	RetryPolicy  = runtimepkg.RetryPolicy
	Applier      = runtimepkg.Applier
	Sink         = sink.Sink
	SinkConfig   = sink.Config
	ApplyError   = sink.ApplyError
	Observer     = latency.Observer

	DeadLetterPublisher = deadletter.Publisher
	DeadLetterEntry     = deadletter.Entry

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Producer = runtimepkg.Producer

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
	LoggerOptions = loggingpkg.Options

	ConfigValidationError = errspkg.ConfigValidationError

	// Lifecycle hooks
	MessageContext = runtimepkg.MessageContext
	Hooks          = runtimepkg.Hooks

	// Stats
	ConsumerStats  = runtimepkg.ConsumerStats
	StatsSnapshot  = runtimepkg.StatsSnapshot
	Status         = runtimepkg.Status
	ErrorCategory  = runtimepkg.ErrorCategory
	LatencyMetrics = runtimepkg.LatencyMetrics

	// Modular transport types
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	NewDriver      = runtimepkg.NewDriver
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	Decode      = cdc.Decode
	OpenSink    = sink.Open
	NewSink     = sink.New
	IsPermanent = sink.IsPermanent
	NewObserver = latency.NewObserver

	NewDeadLetterPublisher = deadletter.New

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	OutcomeHooks  = runtimepkg.OutcomeHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewConsumerStats = runtimepkg.NewConsumerStats
	ClassifyOutcome  = runtimepkg.ClassifyOutcome

	PublishChange    = runtimepkg.PublishChange
	NewChangeMessage = runtimepkg.NewChangeMessage

	// Transport capabilities and registry. Individual transports register
	// themselves on import, e.g. _ "github.com/drblury/cdcsync/transport/kafka".
	GetCapabilities          = newtransport.GetCapabilities
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	DefaultTransportFactory  = transportpkg.DefaultFactory

	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrSinkRequired         = errspkg.ErrSinkRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrDestinationRequired  = errspkg.ErrDestinationRequired
	ErrUnsupportedDialect   = errspkg.ErrUnsupportedDialect
	ErrServiceNotRunnable   = errspkg.ErrServiceNotRunnable
	ErrDeadLetterNotEnabled = errspkg.ErrDeadLetterNotEnabled
	ErrInterrupted          = runtimepkg.ErrInterrupted
	ErrNoCommitTime         = latency.ErrNoCommitTime
	ErrMalformed            = cdc.ErrMalformed
	ErrUnsupportedOperation = cdc.ErrUnsupportedOperation
	ErrInvalidRecord        = cdc.ErrInvalidRecord
	ErrUnknownTransport     = newtransport.ErrUnknownTransport

	NewLogger              = loggingpkg.New
	NewSlogServiceLogger   = loggingpkg.NewSlogServiceLogger
	NewLogrusServiceLogger = loggingpkg.NewLogrusServiceLogger

	CreateULID = idspkg.CreateULID
)

// Operations and stages.
const (
	OperationUnknown = cdc.OperationUnknown
	OperationCreate  = cdc.OperationCreate
	OperationUpdate  = cdc.OperationUpdate
	OperationDelete  = cdc.OperationDelete

	StageReceived       = runtimepkg.StageReceived
	StageDecoded        = runtimepkg.StageDecoded
	StageLatencyChecked = runtimepkg.StageLatencyChecked
	StageApplied        = runtimepkg.StageApplied
	StageAcknowledged   = runtimepkg.StageAcknowledged
	StageAbandoned      = runtimepkg.StageAbandoned
)

// Destination drivers.
const (
	DriverPostgres = sink.DriverPostgres
	DriverMySQL    = sink.DriverMySQL
	DriverSQLite   = sink.DriverSQLite
)

// Error categories reported by ClassifyOutcome.
const (
	ErrorCategoryNone        = runtimepkg.ErrorCategoryNone
	ErrorCategoryDecode      = runtimepkg.ErrorCategoryDecode
	ErrorCategoryUnsupported = runtimepkg.ErrorCategoryUnsupported
	ErrorCategoryApply       = runtimepkg.ErrorCategoryApply
	ErrorCategoryOther       = runtimepkg.ErrorCategoryOther
)
