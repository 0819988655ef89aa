package interceptors

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Dhoini/subscription-service/internal/domain"
	"github.com/Dhoini/subscription-service/pkg/logger"
)

// UnaryLogging логирует каждый вызов и превращает панику обработчика в codes.Internal.
func UnaryLogging(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("gRPC handler panic", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				resp, err = nil, status.Error(codes.Internal, "internal server error")
			}

			code := status.Code(err)
			kv := []interface{}{"method", info.FullMethod, "code", code.String(), "latency_ms", time.Since(start).Milliseconds()}
			if err != nil {
				log.Warnw("gRPC request failed", append(kv, "error", err)...)
				return
			}
			log.Debugw("gRPC request handled", kv...)
		}()

		resp, err = handler(ctx, req)
		if err != nil {
			err = ToStatus(err)
		}
		return resp, err
	}
}

// ToStatus переводит доменную ошибку в gRPC статус; уже готовые статусы не трогает.
func ToStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindAuthenticity, domain.KindMalformedPayload:
		code = codes.InvalidArgument
	case domain.KindNotReady, domain.KindMissingPaymentMethod:
		code = codes.FailedPrecondition
	case domain.KindUnknownPlan, domain.KindNotFound:
		code = codes.NotFound
	case domain.KindProcessor:
		code = codes.Unavailable
	default:
		if errors.Is(err, domain.ErrNotFound) {
			return status.Error(codes.NotFound, err.Error())
		}
		return status.Error(codes.Internal, "internal server error")
	}
	return status.Error(code, domain.MessageOf(err))
}
