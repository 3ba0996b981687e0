package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parusdata/agent"
	"parusdata/config"
	"parusdata/database"
	"parusdata/dbpool"
	"parusdata/logger"
	"parusdata/sandbox"
	"parusdata/storage"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logger.NewLogger()
	if err := log.Init(cfg.LogDir); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager := dbpool.New(dbpool.Engine(cfg.DBEngine), log.Log)
	db, err := manager.OpenWritable(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open reference store: %w", err)
	}
	defer db.Close()
	if err := database.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	metadata := database.NewMetadataService(db)

	blobs, err := storage.NewBlobService(storage.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		Secure:    cfg.MinioSecure,
	}, log.Log)
	if err != nil {
		return err
	}

	llm, err := agent.NewLLMService(ctx, cfg, log.Log)
	if err != nil {
		return fmt.Errorf("failed to create LLM service: %w", err)
	}

	router := agent.NewIntentRouter(llm, log.Log)
	sqlAgent := agent.NewSQLAgent(llm, manager, cfg.DBPath, log.Log)
	analyst := agent.NewAnalyst(llm, metadata, blobs, sandbox.NewInterpreter(), cfg.MaxRetries, cfg.MaxDatasets, log.Log)
	ingestor := agent.NewIngestor(llm, blobs, metadata, log.Log)

	workflow, err := agent.NewWorkflow(ctx, router, sqlAgent, analyst, llm, cfg.Temperature, log.Log)
	if err != nil {
		return fmt.Errorf("failed to build workflow: %w", err)
	}

	server := NewServer(workflow, ingestor, metadata, log.Log)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Logf("Listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Log("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
