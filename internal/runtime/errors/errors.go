package errors

import sterrors "errors"

var (
	ErrConfigRequired       = sterrors.New("cdcsync: configuration is required")
	ErrLoggerRequired       = sterrors.New("cdcsync: logger is required")
	ErrTopicRequired        = sterrors.New("cdcsync: topic is required")
	ErrSinkRequired         = sterrors.New("cdcsync: sink is required")
	ErrPublisherRequired    = sterrors.New("cdcsync: publisher is required")
	ErrDestinationRequired  = sterrors.New("cdcsync: destination connection string is required")
	ErrUnsupportedDialect   = sterrors.New("cdcsync: unsupported destination driver")
	ErrServiceNotRunnable   = sterrors.New("cdcsync: service has no subscriber")
	ErrDeadLetterNotEnabled = sterrors.New("cdcsync: dead letter topic is not configured")
)

// ConfigValidationError wraps the aggregated result of Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "cdcsync: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}
