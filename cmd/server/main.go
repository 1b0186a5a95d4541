package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"

	"hire-chat/auth"
	"hire-chat/contract"
	"hire-chat/infrastructure/grpc/admin"
	"hire-chat/infrastructure/ratelimit"
	"hire-chat/infrastructure/relay"
	"hire-chat/infrastructure/rest"
	"hire-chat/infrastructure/storage"
	"hire-chat/infrastructure/websocket"
	"hire-chat/internal"
	"hire-chat/moderation"
	"hire-chat/repositories"
	"hire-chat/runtime"
	"hire-chat/runtime/workers"
	"hire-chat/services"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a signal or a fatal error.
// Deferred cleanups run before the exit code is returned.
func run() (int, error) {
	config, err := internal.Load()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sanitizer, err := buildSanitizer(config, logger)
	if err != nil {
		return exitConfig, err
	}

	// Stores
	var (
		messages contract.MessageStore
		threads  contract.ThreadStore
		search   contract.SearchIndex
		health   func(ctx context.Context) error
	)
	bodies, err := repositories.NewBodyCipher(config.EncryptionKey)
	if err != nil {
		return exitConfig, err
	}
	if bodies.Enabled() {
		logger.Info("Message bodies are encrypted at rest")
	}

	switch config.StoreDriver {
	case internal.StorePostgres:
		pg, err := repositories.NewPostgresRepository(ctx, config.DatabaseURL, logger)
		if err != nil {
			return exitRuntime, fmt.Errorf("postgres connection failed: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return exitRuntime, fmt.Errorf("postgres schema: %w", err)
		}
		messages, threads, health = pg.WithCipher(bodies), pg, pg.Ping
	default:
		db, err := badger.Open(badgerOptions(config, logger))
		if err != nil {
			return exitRuntime, fmt.Errorf("database opening failed: %w", err)
		}
		defer func() {
			logger.Info("Closing BadgerDB...")
			_ = db.Close()
		}()
		if logger.Enabled(ctx, slog.LevelDebug) {
			port, endpoint := 8081, "/inspect"
			logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d%s", port, endpoint))
			database.StartDebugServer(db, port, endpoint, inspectMapper)
		}
		messages = repositories.NewMessageRepository(db, logger).WithCipher(bodies)
		threads = repositories.NewThreadRepository(db)
		health = func(context.Context) error {
			if db.IsClosed() {
				return errors.New("badger is closed")
			}
			return nil
		}
	}

	if config.BlugeFilepath != "" {
		writer, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
		if err != nil {
			return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
		}
		defer func() {
			logger.Info("Closing Bluge...")
			_ = writer.Close()
		}()
		search = repositories.NewSearchRepository(writer, logger)
	}

	attachments, err := storage.NewAttachments(config.FileRoot, config.MaxAttachmentBytes, logger)
	if err != nil {
		return exitRuntime, err
	}

	// Cross process fanout and rate limits live in Redis when it is configured
	node := nodeName()
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	var (
		limiter contract.RateLimiter = ratelimit.NewMemory()
		rooms   contract.Relay       = relay.Local{}
		bus     *relay.Redis
	)
	if config.RedisURL != "" {
		options, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return exitConfig, fmt.Errorf("REDIS_URL: %w", err)
		}
		client := redis.NewClient(options)
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return exitRuntime, fmt.Errorf("redis unreachable: %w", err)
		}
		limiter = ratelimit.NewRedis(client)
		bus = relay.NewRedis(client, node, logger, config.RoomMailboxSize)
		rooms = bus
	}

	orchestrator := runtime.NewOrchestrator(ctx, logger, sup, runtime.RoomConfig{
		Messages:    messages,
		Threads:     threads,
		Search:      search,
		Relay:       rooms,
		Sanitizer:   sanitizer,
		Node:        node,
		TypingTTL:   config.TypingTimeout,
		IdleTimeout: config.RoomIdleTimeout,
		MailboxSize: config.RoomMailboxSize,
	}, limiter, runtime.SendLimit{Limit: config.SendRateLimit, Window: config.SendRateWindow})

	service := services.NewChatService(logger, threads, messages, search, attachments, limiter, services.Limits{
		HistoryDefault: config.HistoryDefaultLimit,
		HistoryMax:     config.HistoryMaxLimit,
		Uploads:        config.UploadRateLimit,
		UploadWindow:   config.UploadRateWindow,
	}).WithNotifier(orchestrator)

	tokens := auth.NewTokens(config.JwtSecret)
	gateway := websocket.NewGateway(ctx, logger, orchestrator, tokens, websocket.Settings{
		BufferSize:    config.ConnectionBufferSize,
		PongWait:      config.PongWait,
		PingPeriod:    config.PingPeriod,
		WriteWait:     config.WriteWait,
		MaxFrameBytes: 64 << 10,
		Origins:       config.Origins(),
	})

	// Background workers
	sup.Add(
		workers.NewArchiver(logger, threads, messages, attachments, search, config.ArchiveRetention, config.ArchiveInterval),
		workers.NewProcessStats(logger, config.StatsInterval),
	)
	if bus != nil {
		sup.Add(bus.Publisher(), bus.Subscriber(orchestrator))
	}

	errChan := make(chan error, 2)

	var adminServer *admin.Server
	if config.GrpcPort > 0 {
		address := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
		listener, err := net.Listen("tcp", address)
		if err != nil {
			return exitRuntime, fmt.Errorf("failed to listen on %s: %w", address, err)
		}
		adminServer = admin.NewServer(logger, health, config.StatsInterval)
		sup.Add(adminServer)
		go func() {
			if err := adminServer.Serve(listener); err != nil {
				errChan <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	go sup.Run(ctx)

	server := &http.Server{
		Addr: fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler: rest.NewRouter(rest.RouterConfig{
			Log:            logger,
			Service:        service,
			Validator:      tokens,
			Gateway:        gateway,
			Origins:        config.Origins(),
			MaxUploadBytes: config.MaxAttachmentBytes,
			Health:         health,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting HTTP server", "address", server.Addr, "store", config.StoreDriver, "node", node)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		sup.Stop()
		return exitRuntime, err
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	if adminServer != nil {
		adminServer.GracefulStop()
	}
	sup.Stop()
	sup.Wait()
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildSanitizer(config internal.Config, logger *slog.Logger) (moderation.Sanitizer, error) {
	if config.CensoredDir == "" {
		return moderation.NewSanitizer(config.MaxBodyLength, nil), nil
	}
	char, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return moderation.Sanitizer{}, err
	}
	words, err := moderation.LoadCensoredWords(os.DirFS(config.CensoredDir), ".")
	if err != nil {
		return moderation.Sanitizer{}, fmt.Errorf("censored words: %w", err)
	}
	censor, err := moderation.NewCensor(words.Words, char)
	if err != nil {
		return moderation.Sanitizer{}, err
	}
	logger.Info("Censor loaded", "words", len(words.Words), "languages", words.Languages)
	return moderation.NewSanitizer(config.MaxBodyLength, censor), nil
}

func badgerOptions(config internal.Config, logger *slog.Logger) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		return options.WithLoggingLevel(badger.DEBUG).WithBypassLockGuard(true)
	}
	return options.WithLoggingLevel(badger.WARNING)
}

func inspectMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	row.Type, row.Detail = repositories.Describe(key, val)
	return row
}

// nodeName tags relayed broadcasts so a process ignores its own.
func nodeName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "node"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
