package main

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/infrastructure/grpc/server"
	"chat-relay/infrastructure/rest"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"chat-relay/sink"
	"chat-relay/storage"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"golang.org/x/sync/errgroup"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const (
	shutdownTimeout = 10 * time.Second
	gcDiscardRatio  = 0.5
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component, serves until a signal arrives and returns the exit code.
// Deferred cleanups (badger, bluge, bus) run before main calls os.Exit.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	censorChar, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Identity & tokens
	signingKey, created, err := auth.LoadOrCreateSigningKey(config.JwtPrivateKeyPath, config.JwtPublicKeyPath)
	if err != nil {
		return exitConfig, fmt.Errorf("signing key: %w", err)
	}
	if created {
		logger.Warn("Generated a new JWT signing key", "private", config.JwtPrivateKeyPath, "public", config.JwtPublicKeyPath)
	}
	tokens := auth.NewTokenManager(signingKey, config.JwtIssuer, config.JwtAudience, config.AuthTokenDuration)
	identity := auth.NewIdentityService(auth.NewHasher(auth.DefaultArgon2Params), tokens)

	// 3. Live state
	var seed []domain.User
	if config.SeedDemoUsers {
		if !config.IsDevelopment() {
			logger.Warn("Seeding demo users with a shared password", "environment", config.Environment)
		}
		seed = storage.DemoUsers()
	}
	store := storage.NewStore(logger, seed...)
	if err := services.SeedIdentities(identity, seed, storage.DemoPassword); err != nil {
		return exitRuntime, err
	}

	// 4. Archive (BadgerDB) & search index (Bluge)
	db, err := repositories.OpenBadger(config.ArchivePath)
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	blugeWriter, err := repositories.OpenBluge(config.IndexPath)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()
	archive := repositories.NewMessageArchive(db, logger, config.LimitMessages)
	index := repositories.NewMessageIndex(blugeWriter, logger)

	moderator, err := moderation.NewDefaultModerator(censorChar, logger)
	if err != nil {
		return exitConfig, err
	}

	// 5. Event bus & sinks
	bus := runtime.NewEventBus(logger)
	defer bus.Close()
	lookupMessage := func(id uuid.UUID) (domain.Message, bool) {
		return store.Snapshot().MessageByID(id)
	}
	sink.NewDiskSink(archive, lookupMessage, logger).Attach(bus)
	sink.NewSearchSink(index, lookupMessage, logger).Attach(bus)

	// 6. Connections & dispatch
	authenticator := auth.NewSocketAuthenticator(tokens, func(identityID uuid.UUID) (domain.User, bool) {
		return store.Snapshot().UserByIdentity(identityID)
	})
	registry := runtime.NewRegistry(logger, authenticator)

	handlers := services.NewHandlers(logger, store, registry, bus, identity, archive, index,
		services.WithModerator(moderator))
	dispatcher, err := runtime.NewDispatcher(logger, handlers.Registrations(),
		runtime.WithStrictMode(config.IsDevelopment()))
	if err != nil {
		return exitConfig, err
	}
	if err := dispatcher.Require(services.Requests()...); err != nil {
		return exitConfig, err
	}

	// 7. Background workers
	telemetry := workers.NewTelemetryWorker(logger, config.TelemetryInterval, registry.Stats)
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(telemetry, workers.NewArchiveGCWorker(logger, archive, config.ArchiveGCInterval, gcDiscardRatio))

	// 8. HTTP edge
	var checkOrigin func(*http.Request) bool
	if config.IsDevelopment() {
		checkOrigin = func(*http.Request) bool { return true }
	}
	upgrader := ws.NewUpgrader(ws.Config{
		WriteTimeout:   config.SocketWriteTimeout,
		PingInterval:   config.SocketPingInterval,
		MaxMessageSize: config.SocketMaxMessageSize,
	}, checkOrigin)
	router := rest.NewServer(logger, dispatcher, registry, upgrader, tokens).Router()
	if config.IsDevelopment() {
		router.Handle("/debug/inspect", internal.InspectHandler(archive, internal.MessageMapper, func() map[string]any {
			keys, sockets := registry.Stats()
			count, _ := archive.Count()
			last := telemetry.Last()
			return map[string]any{
				"keys":       keys,
				"sockets":    sockets,
				"archived":   count,
				"rss":        last.RSSBytes,
				"goroutines": last.Goroutines,
			}
		})).Methods(http.MethodGet)
		logger.Info("Debug archive inspector available", "url", fmt.Sprintf("http://localhost:%d/debug/inspect", config.Port))
	}

	// Sockets outlive the request that upgraded them; this context ends them after Shutdown.
	serveCtx, cancelServe := context.WithCancel(context.Background())
	defer cancelServe()
	httpServer := &http.Server{
		Addr:              config.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return serveCtx },
	}

	// 9. gRPC health
	grpcListener, err := net.Listen("tcp", config.GrpcAddress())
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", config.GrpcAddress(), err)
	}
	health := server.NewHealthServer(logger)

	// 10. Serve until stop or error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sup.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting gRPC health server", "address", config.GrpcAddress())
		return health.Serve(grpcListener)
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", config.HTTPAddress(), "at", time.Now().UTC(), "environment", config.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		health.SetServing(false)
		registry.Shutdown(runtime.CloseGoingAway, "server shutting down")
		cancelServe()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		health.Stop()
		sup.Stop()
		return err
	})
	health.SetServing(true)

	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}
	logger.Info("Program stopped cleanly", "stopped_at", time.Now().UTC())
	return exitOK, nil
}
