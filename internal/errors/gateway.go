package errors

import (
	"fmt"
	"strings"
)

// Gateway-specific error constructors

// ProtocolError creates an error for a malformed frame or unknown action.
// Recovered locally: an error frame is sent and the connection stays open.
func ProtocolError(reason string) *AppError {
	return New(ErrorTypeProtocol, "PROTOCOL_ERROR", fmt.Sprintf("Protocol error: %s", reason)).
		WithSeverity(SeverityLow).
		WithUserMessage(reason)
}

// ValidationError creates an error for a frame whose payload failed schema
// validation. Field detail is carried back to the client verbatim.
func ValidationError(action string, fields []string) *AppError {
	return New(ErrorTypeValidation, "SCHEMA_VALIDATION_FAILED",
		fmt.Sprintf("Schema validation failed for %q", action)).
		WithSeverity(SeverityLow).
		WithDetails(strings.Join(fields, "; ")).
		WithUserMessage("The request payload is invalid.")
}

// RateLimitExceeded creates an error for a connection that exhausted its
// message window. The message is dropped; the connection stays open.
func RateLimitExceeded(connID string, count, max int64) *AppError {
	return New(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED",
		fmt.Sprintf("Rate limit exceeded: %d/%d", count, max)).
		WithSeverity(SeverityLow).
		WithDetails(fmt.Sprintf("Connection ID: %s", connID)).
		WithUserMessage("Too many messages. Please slow down.")
}

// BackendUnavailable creates an error for a distributed store that cannot be
// reached. The gateway falls back to its in-process store; clients never see
// this error.
func BackendUnavailable(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypeBackend, "BACKEND_UNAVAILABLE",
		fmt.Sprintf("Distributed store %s failed", operation)).
		WithSeverity(SeverityHigh)
}

// HeartbeatTimeout creates an error for a connection evicted by the
// heartbeat sweep. Fatal for that connection only.
func HeartbeatTimeout(connID string, idle string) *AppError {
	return New(ErrorTypeTimeout, "HEARTBEAT_TIMEOUT",
		fmt.Sprintf("Connection idle for %s", idle)).
		WithSeverity(SeverityLow).
		WithDetails(fmt.Sprintf("Connection ID: %s", connID)).
		WithUserMessage("Connection closed due to inactivity.")
}

// TransportSendFailure creates an error for a frame that could not be
// written to a client. The subscriber is scheduled for lazy cleanup; an
// in-progress broadcast is never aborted.
func TransportSendFailure(connID string, cause error) *AppError {
	return Wrap(cause, ErrorTypeTransport, "TRANSPORT_SEND_FAILED",
		fmt.Sprintf("Send to connection %s failed", connID)).
		WithSeverity(SeverityLow)
}

// AuthorizationError creates an error for a denied privileged action.
func AuthorizationError(operation, reason string) *AppError {
	return New(ErrorTypeAuth, "ACCESS_DENIED",
		fmt.Sprintf("Access denied for %s: %s", operation, reason)).
		WithSeverity(SeverityMedium).
		WithUserMessage("You don't have permission to perform this action.")
}

// ConfigurationError creates an error for configuration issues.
func ConfigurationError(field, reason string) *AppError {
	return New(ErrorTypeInternal, "CONFIGURATION_ERROR",
		fmt.Sprintf("Configuration error in %s: %s", field, reason)).
		WithSeverity(SeverityCritical)
}
