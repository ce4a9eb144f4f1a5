package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"kenmesh.org/internal/credential"
	"kenmesh.org/internal/httpapi"
	"kenmesh.org/internal/mesh"
	"kenmesh.org/internal/obs"
	"kenmesh.org/internal/prooflock"
	"kenmesh.org/internal/ratelimit"
	"kenmesh.org/internal/secevent"
	"kenmesh.org/internal/stream"
)

var version = "2.0.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("KENMESH_COMMIT"))

	// Optional Postgres: backs the credential store and the /readyz probe.
	var db *sql.DB
	if dsn := os.Getenv("KENMESH_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	live := stream.New()
	events := secevent.NewLog(secevent.DefaultCapacity, secevent.WithSink(live.Publish))

	var credStore credential.Store
	if db != nil {
		credStore = credential.NewPGStore(db)
	} else {
		credStore = credential.NewInMemory()
	}

	limiter := ratelimit.New(events)
	core := httpapi.Core{
		Credentials: credential.NewService(credStore, events),
		Limiter:     limiter,
		Miner:       prooflock.NewMiner(),
		Engine:      mesh.NewEngine(mesh.FixedVoter(true)),
		Events:      events,
		Stream:      live,
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, core)

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting kenmesh-api %s on %s", version, srv.Addr)

	// Idle rate-limit windows are swept in the background.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				limiter.Sweep(time.Hour)
			case <-sweepDone:
				return
			}
		}
	}()

	// gRPC health endpoint for infrastructure probes.
	grpcAddr := os.Getenv("KENMESH_GRPC_ADDR")
	if grpcAddr == "" {
		grpcAddr = ":9090"
	}
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go func() {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	close(sweepDone)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcSrv.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
