package main

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthInterval = 10 * time.Second

// handleGRPCServer serves the standard gRPC health protocol for orchestrators.
// The overall status ("") is SERVING only while every check passes.
func handleGRPCServer(ctx context.Context, addr string, checks map[string]func() bool, wg *sync.WaitGroup, errc chan error, logger *log.Logger) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		go func() { errc <- err }()
		return
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	updateHealth(hs, checks)

	(*wg).Add(1)
	go func() {
		defer (*wg).Done()

		go func() {
			logger.Printf("gRPC health server listening on %q", addr)
			errc <- srv.Serve(lis)
		}()

		ticker := time.NewTicker(healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				updateHealth(hs, checks)
			case <-ctx.Done():
				logger.Printf("shutting down gRPC server at %q", addr)
				hs.Shutdown()
				srv.GracefulStop()
				return
			}
		}
	}()
}

func updateHealth(hs *health.Server, checks map[string]func() bool) {
	overall := healthpb.HealthCheckResponse_SERVING
	for name, check := range checks {
		status := healthpb.HealthCheckResponse_SERVING
		if !check() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(name, status)
	}
	hs.SetServingStatus("", overall)
}
