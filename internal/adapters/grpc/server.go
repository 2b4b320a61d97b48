package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
)

const (
	serviceName = "viralforge.access.v1.AccessInternalService"

	methodValidateToken   = "/" + serviceName + "/ValidateToken"
	methodCheckPermission = "/" + serviceName + "/CheckPermission"
)

type AccessInternalService interface {
	ValidateToken(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckPermission(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type AccessInternalServer struct {
	service *application.Service
}

func NewAccessInternalServer(service *application.Service) *AccessInternalServer {
	return &AccessInternalServer{service: service}
}

// NewServer builds a gRPC server exposing the internal access API and the
// standard health service. CheckPermission requires a bearer token in the
// authorization metadata.
func NewServer(service *application.Service, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(
		recoveryInterceptor(),
		BearerInterceptor(service, methodCheckPermission),
	))
	server := grpc.NewServer(opts...)
	Register(server, NewAccessInternalServer(service))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	return server, healthServer
}

func Register(server grpc.ServiceRegistrar, svc AccessInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*AccessInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "ValidateToken",
				Handler:    unaryHandler(methodValidateToken, svc.ValidateToken),
			},
			{
				MethodName: "CheckPermission",
				Handler:    unaryHandler(methodCheckPermission, svc.CheckPermission),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "contracts/proto/access/v1/access_internal.proto",
	}, svc)
}

func (s *AccessInternalServer) ValidateToken(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	token := stringField(req, "token")
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "missing token")
	}

	principal, err := s.service.ResolvePrincipal(ctx, token)
	if err != nil {
		return nil, toStatus(err)
	}

	resp, err := structpb.NewStruct(map[string]any{
		"valid":      true,
		"user_id":    principal.Identity.UserID.String(),
		"email":      principal.Identity.Email,
		"tenant_id":  principal.Identity.TenantID.String(),
		"token_id":   principal.Claims.TokenID,
		"expires_at": principal.Claims.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func (s *AccessInternalServer) CheckPermission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing credentials")
	}

	res, err := s.service.CheckAccess(ctx, principal, application.AccessCheckRequest{
		Resource: stringField(req, "resource"),
		Action:   stringField(req, "action"),
	})
	if err != nil {
		return nil, toStatus(err)
	}

	resp, err := structpb.NewStruct(map[string]any{
		"allowed":   res.Allowed,
		"user_id":   principal.Identity.UserID.String(),
		"tenant_id": principal.Identity.TenantID.String(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func unaryHandler(fullMethod string, call func(context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func stringField(req *structpb.Struct, name string) string {
	v := req.GetFields()[name]
	if v == nil {
		return ""
	}
	return v.GetStringValue()
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "could not validate credentials")
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, "not enough privileges")
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "resource not found")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
