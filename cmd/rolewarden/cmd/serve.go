package cmd

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
	"golang.org/x/sync/errgroup"

	"github.com/terraconstructs/rolewarden/internal/platform"
	"github.com/terraconstructs/rolewarden/internal/platform/discord"
	"github.com/terraconstructs/rolewarden/internal/policy"
	"github.com/terraconstructs/rolewarden/internal/reconcile"
	"github.com/terraconstructs/rolewarden/internal/server"
	"github.com/terraconstructs/rolewarden/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the reconciliation service",
	Long: `Starts the event dispatcher and the HTTP server that accepts membership
change events and serves audit queries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pol, err := policy.New(cfg.Policy)
		if err != nil {
			return fmt.Errorf("invalid policy: %w", err)
		}
		log.Printf("Loaded policy: %d exclusive group(s), %d dependency rule(s)", len(pol.Groups()), len(pol.Rules()))
		for _, rule := range pol.Unsatisfiable() {
			log.Printf("WARNING: role %s shares an exclusive group with all of its prerequisites %v and will always be removed", rule.Role, rule.Requires)
		}

		tieBreak, err := reconcile.ParseTieBreak(cfg.Reconcile.TieBreak)
		if err != nil {
			return err
		}
		logChannel, err := platform.ParseChannelID(cfg.Discord.LogChannelID)
		if err != nil {
			return fmt.Errorf("discord.log_channel_id: %w", err)
		}

		shutdownTelemetry, err := telemetry.Init(ctx, cfg.Observability)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				log.Printf("WARNING: telemetry shutdown: %v", err)
			}
		}()

		metrics, err := telemetry.NewReconcileMetrics()
		if err != nil {
			return fmt.Errorf("failed to create metrics: %w", err)
		}

		store, closeStore, err := openAuditStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		client, err := discord.New(cfg.Discord.Token, cfg.Discord.GuildID, cfg.Discord.RequestsPerSecond)
		if err != nil {
			return err
		}
		names, err := platform.NewNameCache(pol.RoleNames(), client, cfg.Platform.NameCacheSize)
		if err != nil {
			return fmt.Errorf("failed to create role name cache: %w", err)
		}

		coordinator, err := reconcile.NewCoordinator(reconcile.Dependencies{
			Policy:     pol,
			Mutator:    client,
			Store:      store,
			Notifier:   client,
			Names:      names,
			LogChannel: logChannel,
			Metrics:    metrics,
		}, reconcile.Options{
			TieBreak:                     tieBreak,
			RevalidateOnPrerequisiteLoss: cfg.Reconcile.RevalidateOnPrerequisiteLoss,
			CallTimeout:                  cfg.Platform.CallTimeout,
			MutationRetries:              cfg.Platform.MutationRetries,
			Debug:                        cfg.Debug,
		})
		if err != nil {
			return err
		}
		if logChannel == 0 {
			log.Printf("WARNING: discord.log_channel_id not set, moderator log entries are disabled")
		}

		dispatcher := reconcile.NewDispatcher(coordinator, cfg.Reconcile.QueueSize, cfg.Reconcile.WorkerIdleTimeout, metrics)

		validator, err := server.NewEventValidator()
		if err != nil {
			return err
		}

		routerOpts := server.RouterOptions{
			Events:        dispatcher,
			Validator:     validator,
			Audit:         store,
			HealthHandler: server.HandleHealth(dispatcher, store, cfg.Audit.Backend),
		}
		if len(cfg.CORSAllowedOrigins) > 0 {
			corsOpts := server.DefaultCORSOptions()
			corsOpts.AllowedOrigins = cfg.CORSAllowedOrigins
			routerOpts.CORSOptions = &corsOpts
		}

		srv := &http.Server{
			Addr:         cfg.ServerAddr,
			Handler:      server.NewH2CHandler(routerOpts),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			return dispatcher.Run(gctx)
		})

		g.Go(func() error {
			log.Printf("Starting server on %s", cfg.ServerAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			log.Printf("Shutting down gracefully")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		log.Printf("Server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
