package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-im/courier/internal/chat"
	"github.com/nexus-im/courier/internal/database"
	"github.com/nexus-im/courier/internal/httpapi"
	"github.com/nexus-im/courier/internal/live"
	"github.com/nexus-im/courier/internal/presence"
)

var (
	serveAddr    string
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides HOST and PORT")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending SQL migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

// runServe owns the server lifecycle. Teardown runs in reverse start order:
// the HTTP listener, then live connections and pending pushes, then the
// store handle.
func runServe(ctx context.Context) error {
	b, err := openBackend(ctx)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing store...")
		if err := b.close(); err != nil {
			log.Error("Failed to close store", "error", err)
		}
	}()

	if serveMigrate {
		if err := migrateBackend(ctx, b); err != nil {
			return err
		}
	}

	mode, err := presence.ParseMode(cfg.PresenceMode)
	if err != nil {
		return err
	}
	registry := presence.NewRegistry(mode)
	service := chat.NewService(log, b.conversations, b.messages, b.users, registry, chat.Options{
		MessageLimit:  cfg.MessageLimit,
		PushTimeout:   cfg.PushTimeout,
		DefaultAvatar: cfg.DefaultAvatar,
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := live.NewHub(log, registry, b.users, live.Options{
		SendBuffer:   cfg.SendBuffer,
		MaxFrameSize: cfg.MaxFrameSize,
	})
	go hub.Run(hubCtx)

	addr := serveAddr
	if addr == "" {
		addr = cfg.Addr()
	}
	router := httpapi.NewRouter(log, service, b.pinger, http.HandlerFunc(hub.ServeWS), httpapi.Options{
		MaxBodySize: cfg.MaxBodySize,
	})
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", "addr", addr, "driver", cfg.StoreDriver, "presence_mode", mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serveErr:
		router.Wait()
		stopHub()
		hub.Wait()
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}
	// Shutdown gives up on slow handlers; they still hold the store.
	router.Wait()

	stopHub()
	hub.Wait()
	service.Wait()
	log.Info("Server stopped", "online_users", registry.Online())
	return nil
}

func migrateBackend(ctx context.Context, b *backend) error {
	if b.sql == nil {
		log.Info("No migrations for driver", "driver", cfg.StoreDriver)
		return nil
	}
	return database.Migrate(ctx, log, b.sql)
}
