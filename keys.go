package orkestra

import "time"

// Well-known configuration keys read by the orchestrator and the built-in
// components.
var (
	ServiceNameKey       = NewKey[string]("service_name")
	OperationNameKey     = NewKey[string]("operation_name")
	AppIDKey             = NewKey[string]("app_id")
	RetryConfigKey       = NewKey[RetryConfig]("retry_config")
	TimeoutConfigKey     = NewKey[TimeoutConfig]("timeout_config")
	AuthSchemeOptionsKey = NewKey[[]string]("auth_scheme_options")
	EndpointParamsKey    = NewKey[EndpointParams]("endpoint_params")
	ChecksumRequiredKey  = NewKey[bool]("checksum_required")

	// Attempt-scoped.
	RequestAttemptsKey = NewKey[int]("request_attempts")
	AttemptStartKey    = NewKey[time.Time]("attempt_start")

	// Interceptor state.
	InvocationIDKey = NewKey[string]("invocation_id")
	retryPermitKey  = NewKey[int64]("retry_permit")
)
