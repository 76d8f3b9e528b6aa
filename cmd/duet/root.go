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

	"github.com/spf13/cobra"

	"github.com/antoniostano/duet/internal/app"
	"github.com/antoniostano/duet/internal/chat"
	"github.com/antoniostano/duet/internal/config"
	"github.com/antoniostano/duet/internal/duet"
	"github.com/antoniostano/duet/internal/persona"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "duet",
		Short:        "Run two persona chat bots in a shared room",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd(), newRunCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control plane and dashboard over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if addr != "" {
				cfg.BindAddr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides APP_BIND_ADDR)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	built, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Printf("cleanup failed: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-sigCh:
		log.Printf("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("listen error: %w", err)
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = app.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	built.Orchestrator.Stop()
	log.Printf("shutdown complete")
	return nil
}

func newRunCmd() *cobra.Command {
	var (
		room     string
		personaA string
		personaB string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the configured bot pair headless until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if room != "" {
				cfg.ChatRoom = room
			}
			if !cfg.HasAccounts() {
				return errors.New("BOT_A_USERNAME, BOT_B_USERNAME and CHAT_ROOM must be set")
			}
			req := duet.LaunchRequest{
				A:        duet.Credentials{Username: cfg.BotA.Username, Password: cfg.BotA.Password},
				B:        duet.Credentials{Username: cfg.BotB.Username, Password: cfg.BotB.Password},
				Room:     cfg.ChatRoom,
				PersonaA: persona.ID(cfg.BotA.Persona),
				PersonaB: persona.ID(cfg.BotB.Persona),
			}
			if personaA != "" {
				req.PersonaA = persona.ID(personaA)
			}
			if personaB != "" {
				req.PersonaB = persona.ID(personaB)
			}
			return runHeadless(cmd.Context(), cfg, req)
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room to join (overrides CHAT_ROOM)")
	cmd.Flags().StringVar(&personaA, "persona-a", "", "persona for the initiator bot")
	cmd.Flags().StringVar(&personaB, "persona-b", "", "persona for the responder bot")
	return cmd
}

func runHeadless(ctx context.Context, cfg config.Config, req duet.LaunchRequest) error {
	if ctx == nil {
		ctx = context.Background()
	}
	built, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Printf("cleanup failed: %v", err)
		}
	}()

	launchID, err := built.Orchestrator.Launch(ctx, req)
	if err != nil {
		return err
	}
	log.Printf("launch %s started in %s", launchID, req.Room)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			log.Printf("shutdown signal received")
			built.Orchestrator.Stop()
			return nil
		case <-ticker.C:
			if allStopped(built.Orchestrator.Status(1)) {
				built.Orchestrator.Stop()
				return errors.New("both bots gave up reconnecting")
			}
		}
	}
}

func allStopped(st duet.Status) bool {
	if len(st.Bots) < 2 {
		return false
	}
	for _, b := range st.Bots {
		if b.Status != chat.StatusStopped {
			return false
		}
	}
	return true
}
