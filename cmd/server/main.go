package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dockerless-oj/core"
)

func main() {
	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "server.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	catalogue, err := core.NewCatalogue(cfg.ContestsDir)
	if err != nil {
		log.Fatalf("failed to load problem catalogue: %v", err)
	}

	langs := core.NewLanguageRegistry(cfg)
	engine := core.NewSandboxEngine(cfg, langs)
	userRepo := core.NewPgUserRepository(db)
	subRepo := core.NewPgSubmissionRepository(db)
	limiter := core.NewRateLimiter(cfg, userRepo)
	judge := core.NewJudge(engine)
	pipeline := core.NewJudgePipeline(cfg, subRepo, catalogue, judge)

	audit := core.NewRedisAuditSink(redisClient, core.AuditStreamKey)
	defer audit.Close()

	hostname, _ := os.Hostname()
	heartbeat := core.NewHeartbeatState(core.NewWorkerID(), hostname, cfg.WorkerCount, pipeline.QueueDepth)
	pipeline.SetHeartbeat(heartbeat)
	go heartbeat.Start(ctx, redisClient)

	pipeline.Start(ctx)
	defer pipeline.Stop()

	service := core.NewIntakeService(cfg, catalogue, langs, subRepo, limiter, engine, pipeline, audit)
	admin := core.NewAdminGuard(cfg)
	metrics := core.NewMetricsService(redisClient)
	router := core.NewRouter(cfg, service, userRepo, admin, pipeline, metrics)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("server started. port=%s workers=%d contests=%s", cfg.Port, cfg.WorkerCount, cfg.ContestsDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
