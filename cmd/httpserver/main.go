// Command httpserver runs the poll ceremony backend: the three-pool auth
// API, poll management, and the key ceremony endpoints.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/urfave/cli/v2"

	"github.com/tiacvote/poll-ceremony-backend/api/authhandler"
	"github.com/tiacvote/poll-ceremony-backend/api/pollhandler"
	"github.com/tiacvote/poll-ceremony-backend/auth"
	"github.com/tiacvote/poll-ceremony-backend/ceremony"
	"github.com/tiacvote/poll-ceremony-backend/common"
	"github.com/tiacvote/poll-ceremony-backend/cryptoutils"
	"github.com/tiacvote/poll-ceremony-backend/engine"
	"github.com/tiacvote/poll-ceremony-backend/httpserver"
	"github.com/tiacvote/poll-ceremony-backend/interfaces"
	"github.com/tiacvote/poll-ceremony-backend/polls"
	"github.com/tiacvote/poll-ceremony-backend/session"
	"github.com/tiacvote/poll-ceremony-backend/storage"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.StringFlag{
		Name:    "db-dsn",
		Value:   "",
		Usage:   "PostgreSQL DSN; empty selects the in-memory store (development only)",
		EnvVars: []string{"DATABASE_URL"},
	},
	&cli.StringFlag{
		Name:  "engine-url",
		Value: "http://127.0.0.1:5000",
		Usage: "base URL of the external crypto engine",
	},
	&cli.StringFlag{
		Name:     "signing-secret",
		Required: true,
		Usage:    "hex-encoded session signing secret, at least 32 bytes",
		EnvVars:  []string{"SIGNING_SECRET"},
	},
	&cli.IntFlag{
		Name:  "security-level",
		Value: ceremony.DefaultSecurityLevel,
		Usage: "pairing security level passed to the engine's Setup",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
	&cli.BoolFlag{
		Name:  "log-uid",
		Value: false,
		Usage: "generate a uuid and add to all log messages",
	},
	&cli.StringFlag{
		Name:  "log-service",
		Value: "poll-ceremony-backend",
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "ceremony-server",
		Usage: "Serve the poll ceremony API",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			metricsAddr := cCtx.String("metrics-addr")
			dbDSN := cCtx.String("db-dsn")
			engineURL := cCtx.String("engine-url")
			signingSecret := cCtx.String("signing-secret")
			securityLevel := cCtx.Int("security-level")
			logJSON := cCtx.Bool("log-json")
			logDebug := cCtx.Bool("log-debug")
			logUID := cCtx.Bool("log-uid")
			logService := cCtx.String("log-service")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   logDebug,
				JSON:    logJSON,
				Service: logService,
				Version: common.Version,
			})

			if logUID {
				id := uuid.Must(uuid.NewRandom())
				logger = logger.With("uid", id.String())
			}

			masterSecret, err := hex.DecodeString(signingSecret)
			if err != nil {
				logger.Error("Invalid signing-secret, expected hex", "err", err)
				return fmt.Errorf("invalid signing-secret: %w", err)
			}
			// Token signing uses a purpose key derived from the injected secret.
			signingKey, err := cryptoutils.DeriveKey(masterSecret, "session-tokens")
			if err != nil {
				logger.Error("Could not derive signing key", "err", err)
				return err
			}
			issuer, err := session.NewIssuer(signingKey, session.DefaultTTL)
			if err != nil {
				logger.Error("Could not create token issuer", "err", err)
				return err
			}

			var store interfaces.Store
			if dbDSN != "" {
				logger.Info("Connecting to PostgreSQL")
				db, err := sql.Open("postgres", dbDSN)
				if err != nil {
					logger.Error("Failed to open database", "err", err)
					return err
				}
				defer db.Close()

				if err := db.Ping(); err != nil {
					logger.Error("Database unreachable", "err", err)
					return err
				}

				pg := storage.NewPostgresStore(db, logger)
				if err := pg.CreateSchema(context.Background()); err != nil {
					logger.Error("Schema creation failed", "err", err)
					return err
				}
				store = pg
			} else {
				logger.Warn("No db-dsn provided, using in-memory store; all state is lost on restart")
				store = storage.NewMemoryStore()
			}

			engineClient := engine.NewClient(engineURL)
			authService := auth.NewService(store, issuer, logger)
			manager := polls.NewManager(store, logger)
			orchestrator := ceremony.NewOrchestrator(store, engineClient, securityLevel, logger)

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:               listenAddr,
				MetricsAddr:              metricsAddr,
				Log:                      logger,
				EnablePprof:              enablePprof,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
			}

			server, err := httpserver.New(cfg,
				authhandler.NewHandler(authService, logger),
				pollhandler.NewHandler(manager, orchestrator, authService, logger),
			)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit

			logger.Info("Shutting down")
			server.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Fatal(err)
		}
	}
}
