package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/shop-scanner/internal/recordstore"
	"github.com/zombor/shop-scanner/internal/scan"
	"github.com/zombor/shop-scanner/internal/session"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("shop-scanner")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		storeType      = fs.StringLong("store", "bolt", "Record store: 'http', 'bolt', 'redis' or 'sqlite'")
		storeURL       = fs.StringLong("store-url", "", "Document service base URL (http store)")
		storeToken     = fs.StringLong("store-token", "", "Bearer token for the document service (http store)")
		storeTimeout   = fs.DurationLong("store-timeout", 0, "Document service request timeout (http store, default 10s)")
		boltPath       = fs.StringLong("bolt-path", "shop-scanner.db", "Database file path (bolt store)")
		redisURL       = fs.StringLong("redis-url", "redis://localhost:6379/0", "Redis URL (redis store)")
		redisNamespace = fs.StringLong("redis-namespace", recordstore.DefaultRedisNamespace, "Redis key prefix (redis store)")
		sqliteDSN      = fs.StringLong("sqlite-dsn", "shop-scanner.sqlite", "SQLite data source (sqlite store)")
		collection     = fs.StringLong("collection", scan.DefaultCollection, "Collection holding product records")
		seedPath       = fs.StringLong("seed", "", "JSON file of code to record to load before starting (bolt, redis, sqlite)")
		confirmTimeout = fs.DurationLong("confirm-timeout", 0, "Expire pending secondary-code confirmations after this long (0 = never)")
		sweepInterval  = fs.DurationLong("sweep-interval", 0, "How often expired confirmations are dropped (default confirm-timeout)")
		readStdin      = fs.BoolLong("stdin", "Read scanned codes from stdin, one per line")
		logFormat      = fs.StringLong("log-format", "text", "Log format: 'text' or 'json'")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		_              = fs.StringLong("config", "", "Config file path (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SHOP_SCANNER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := setupLogging(*logFormat, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize record store based on type
	var store scan.RecordStore
	var err error
	switch *storeType {
	case "http":
		slog.Info("Initializing document service store...", "url", *storeURL)
		store, err = recordstore.NewHTTP(*storeURL, *storeToken, *storeTimeout)
	case "bolt":
		slog.Info("Initializing database...", "path", *boltPath)
		store, err = recordstore.NewBolt(*boltPath)
	case "redis":
		slog.Info("Initializing Redis store...", "namespace", *redisNamespace)
		store, err = recordstore.NewRedis(ctx, *redisURL, *redisNamespace)
	case "sqlite":
		slog.Info("Initializing SQLite store...", "dsn", *sqliteDSN)
		store, err = recordstore.NewSQLite(*sqliteDSN)
	default:
		slog.Error("Invalid store type", "type", *storeType, "valid", "http, bolt, redis or sqlite")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize record store", "store", *storeType, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if *seedPath != "" {
		if err := seed(ctx, store, *collection, *seedPath); err != nil {
			slog.Error("Failed to seed record store", "error", err)
			os.Exit(1)
		}
	}

	// Initialize session
	shopper := session.New(store, session.Config{
		Collection:     *collection,
		ConfirmTimeout: *confirmTimeout,
	})
	defer shopper.Close()

	if *confirmTimeout > 0 {
		interval := *sweepInterval
		if interval <= 0 {
			interval = *confirmTimeout
		}
		go shopper.Sweep(ctx, interval)
	}

	if *readStdin {
		items := make(chan session.Item)
		go func() {
			defer close(items)
			if err := session.LineReader(ctx, os.Stdin, items); err != nil {
				slog.Error("Scanner input error", "error", err)
			}
		}()
		go func() {
			if err := shopper.Run(ctx, items); err != nil && ctx.Err() == nil {
				slog.Error("Scan router stopped", "error", err)
			}
		}()
		slog.Info("Reading scanned codes from stdin")
	}

	// Initialize server
	server := session.NewServer(shopper)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// setupLogging installs the default slog logger
func setupLogging(format, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// seed loads the seed file into store, which must be writable
func seed(ctx context.Context, store scan.RecordStore, collection, path string) error {
	writer, ok := store.(recordstore.Writer)
	if !ok {
		return fmt.Errorf("record store does not support seeding")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()

	if _, err := recordstore.Seed(ctx, writer, collection, f); err != nil {
		return err
	}
	return nil
}
