package http

import (
	"context"
	"log/slog"
	"net/http"
)

const serviceName = "M98-Tenant-Access-Service"

// accessLogger scopes adapter logs. Once a bearer token has been resolved the
// caller's tenant and user ride along on every line.
func accessLogger(ctx context.Context) *slog.Logger {
	logger := slog.Default().With(
		"service", serviceName,
		"module", "http",
		"layer", "adapter",
	)
	if principal, ok := principalFromContext(ctx); ok {
		logger = logger.With(
			"tenant_id", principal.Identity.TenantID.String(),
			"user_id", principal.Identity.UserID.String(),
		)
	}
	return logger
}

// accessDecision names what a failed status means for the caller's access.
func accessDecision(statusCode int) string {
	switch {
	case statusCode == http.StatusUnauthorized:
		return "unauthenticated"
	case statusCode == http.StatusForbidden:
		return "forbidden"
	case statusCode == http.StatusTooManyRequests:
		return "throttled"
	case statusCode >= http.StatusInternalServerError:
		return "error"
	default:
		return "rejected"
	}
}

func logHTTPOperationError(ctx context.Context, operation string, statusCode int, code, message string, err error) {
	decision := accessDecision(statusCode)
	fields := []any{
		"operation", operation,
		"outcome", "failure",
		"decision", decision,
		"status_code", statusCode,
		"error_code", code,
		"message", message,
		"request_id", requestIDFromContext(ctx),
	}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	logger := accessLogger(ctx)
	switch decision {
	case "error":
		logger.ErrorContext(ctx, "access request failed", fields...)
	case "rejected":
		logger.InfoContext(ctx, "access request rejected", fields...)
	default:
		logger.WarnContext(ctx, "access denied", fields...)
	}
}
