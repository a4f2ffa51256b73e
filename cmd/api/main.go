package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/library-service/cmd/api/database"
	libraryhttp "github.com/library-service/cmd/api/http"
	"github.com/library-service/cmd/api/inmemory"
	"github.com/library-service/cmd/api/library"
	"github.com/library-service/cmd/api/notifications"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	err := run()
	if err != nil {
		log.Println(err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	shutdownTelemetry, err := setupTelemetry(context.Background(), cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	defer shutdownTelemetry()

	repo, closeRepo, err := openRepository(cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	ntfy := notifications.NewNtfy(cfg.NotificationsEnabled, cfg.NotificationsBaseURL, &http.Client{})
	libraryService := library.NewService(repo, ntfy, cfg.NotificationsTimeout,
		library.WithPolicy(library.Policy{MaxActiveLoans: cfg.LoanMaxActive, LoanPeriod: cfg.LoanPeriod}))

	if cfg.AdminToken != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPRequestTimeout)
		_, err = libraryService.EnsureSuperuser(ctx, cfg.AdminUsername, cfg.AdminToken)
		cancel()
		if err != nil {
			return fmt.Errorf("creating superuser: %w", err)
		}
	}

	libraryHandler := libraryhttp.NewLibraryHandler(libraryService)

	//create and init http server:
	server := libraryhttp.NewServer(libraryhttp.ServerConfig{
		Port:           cfg.HTTPPort,
		RequestTimeout: cfg.HTTPRequestTimeout,
	}, libraryHandler)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", server.Addr)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("unexpected http server error: %w", err)
		}
		close(serverErr)
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sc:
	case err := <-serverErr:
		return err
	}

	ctx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	libraryService.WaitNotifications()
	log.Println("Graceful shutdown complete.")
	return nil
}

/* Connects to Postgres and applies the migrations, or falls back to the in-memory store when no DATABASE_URL is set. */
func openRepository(cfg Config) (library.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Println("DATABASE_URL not set, using the in-memory store")
		store, err := inmemory.NewInMemoryStore(inmemory.WithLockTimeout(cfg.StoreLockTimeout))
		if err != nil {
			return nil, nil, fmt.Errorf("creating in-memory store: %w", err)
		}
		return store, func() {}, nil
	}

	dbObject, err := database.ConnectDb(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting with db: %w", err)
	}

	store := database.NewStore(dbObject, database.WithLockTimeout(cfg.StoreLockTimeout))
	err = database.MigrationUp(store, cfg.DatabaseMigrationsPath)
	if err != nil {
		dbObject.Close()
		return nil, nil, fmt.Errorf("migrating: %w", err)
	}

	return store, func() { dbObject.Close() }, nil
}

/* Installs OTLP/HTTP trace and metric exporters when an endpoint is configured. The exporters read the endpoint from the environment themselves. */
func setupTelemetry(ctx context.Context, endpoint string) (func(), error) {
	if endpoint == "" {
		return func() {}, nil
	}

	res := resource.NewSchemaless(attribute.String("service.name", "library-service"))

	traceExporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating otlp trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricExporter, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating otlp metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			log.Println("shutting down tracer provider:", err)
		}
		if err := meterProvider.Shutdown(ctx); err != nil {
			log.Println("shutting down meter provider:", err)
		}
	}, nil
}
