package grpc

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/application"
)

type principalKey struct{}

// PrincipalFromContext returns the caller resolved by BearerInterceptor.
func PrincipalFromContext(ctx context.Context) (application.Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(application.Principal)
	return principal, ok
}

// BearerInterceptor resolves the "authorization: Bearer <token>" metadata for
// the listed methods and rejects the call when it is missing or invalid.
// Other methods pass through untouched.
func BearerInterceptor(service *application.Service, methods ...string) grpc.UnaryServerInterceptor {
	protected := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		protected[m] = struct{}{}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := protected[info.FullMethod]; !ok {
			return handler(ctx, req)
		}

		raw := bearerFromMetadata(ctx)
		if raw == "" {
			logAuthFailure(ctx, info.FullMethod, "missing bearer token")
			return nil, status.Error(codes.Unauthenticated, "missing credentials")
		}
		principal, err := service.ResolvePrincipal(ctx, raw)
		if err != nil {
			logAuthFailure(ctx, info.FullMethod, "token rejected")
			return nil, toStatus(err)
		}
		return handler(context.WithValue(ctx, principalKey{}, principal), req)
	}
}

func recoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				grpcLogger().ErrorContext(ctx, "panic recovered",
					"operation", "grpc_panic_recovery",
					"outcome", "failure",
					"method", info.FullMethod,
					"panic", rec,
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	return ""
}

func logAuthFailure(ctx context.Context, method, reason string) {
	attrs := []any{
		"operation", "grpc_authenticate",
		"outcome", "failure",
		"method", method,
		"reason", reason,
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	grpcLogger().WarnContext(ctx, "auth failure", attrs...)
}

func grpcLogger() *slog.Logger {
	return slog.Default().With(
		"service", "M98-Tenant-Access-Service",
		"module", "grpc",
		"layer", "adapter",
	)
}
