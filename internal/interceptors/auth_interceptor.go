package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Dhoini/subscription-service/internal/middleware"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

// AuthInterceptor проверяет JWT из метаданных authorization тем же валидатором, что и HTTP.
type AuthInterceptor struct {
	log           *logger.Logger
	validator     middleware.TokenValidator
	publicMethods []string
}

// NewAuthInterceptor publicMethods - префиксы FullMethod, доступные без токена.
func NewAuthInterceptor(validator middleware.TokenValidator, log *logger.Logger, publicMethods ...string) *AuthInterceptor {
	return &AuthInterceptor{
		log:           log,
		validator:     validator,
		publicMethods: publicMethods,
	}
}

// Unary возвращает UnaryServerInterceptor для проверки JWT.
func (i *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if i.isPublic(info.FullMethod) {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			i.log.Warnw("gRPC auth: missing metadata", "method", info.FullMethod)
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			i.log.Warnw("gRPC auth: missing authorization header", "method", info.FullMethod)
			return nil, status.Error(codes.Unauthenticated, "missing authorization header")
		}
		if !strings.HasPrefix(authHeaders[0], "Bearer ") {
			i.log.Warnw("gRPC auth: invalid authorization header format", "method", info.FullMethod)
			return nil, status.Error(codes.Unauthenticated, "invalid authorization header format")
		}

		claims, err := i.validator.Validate(strings.TrimPrefix(authHeaders[0], "Bearer "))
		if err != nil {
			i.log.Warnw("gRPC auth: invalid token", "method", info.FullMethod, "error", err)
			return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
		}
		if claims.Subject == "" {
			i.log.Warnw("gRPC auth: sub missing in token", "method", info.FullMethod)
			return nil, status.Error(codes.Unauthenticated, "user id (sub) missing in token")
		}

		ctx = context.WithValue(ctx, middleware.ContextUserIDKey, claims.Subject)
		i.log.Debugw("User authenticated via gRPC", "userID", claims.Subject, "method", info.FullMethod)
		return handler(ctx, req)
	}
}

func (i *AuthInterceptor) isPublic(fullMethod string) bool {
	for _, prefix := range i.publicMethods {
		if strings.HasPrefix(fullMethod, prefix) {
			return true
		}
	}
	return false
}
