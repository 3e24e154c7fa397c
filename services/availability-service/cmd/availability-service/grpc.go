package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/mindery/booking/libs/grpcx"
	"github.com/mindery/booking/libs/runtime"
	"github.com/mindery/booking/services/availability-service/internal/grpcserver"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, port string, checks ...runtime.ReadyCheck) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpcx.NewServer(logger)
	health := grpcserver.Register(srv, logger, checks...)
	go health.Watch(ctx, 10*time.Second)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}
