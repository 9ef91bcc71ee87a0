// Copyright (c) 2025, the cross-seed contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/PiloUnk/cross-seed/internal/api"
	"github.com/PiloUnk/cross-seed/internal/buildinfo"
	"github.com/PiloUnk/cross-seed/internal/config"
	"github.com/PiloUnk/cross-seed/internal/database"
	"github.com/PiloUnk/cross-seed/internal/domain"
	"github.com/PiloUnk/cross-seed/internal/models"
	"github.com/PiloUnk/cross-seed/internal/scheduler"
	"github.com/PiloUnk/cross-seed/internal/services/conflict"
	"github.com/PiloUnk/cross-seed/internal/services/decision"
	"github.com/PiloUnk/cross-seed/internal/services/search"
	"github.com/PiloUnk/cross-seed/internal/services/torznab"
	"github.com/PiloUnk/cross-seed/internal/torrentcache"
	"github.com/PiloUnk/cross-seed/internal/torrentclient"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	rootCmd := &cobra.Command{
		Use:   "cross-seed",
		Short: "Cross-seeding engine for BitTorrent",
		Long: `cross-seed finds alternate releases of torrents you already seed
and injects them into your clients so a second tracker's copy seeds
from the same local data.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cross-seed %s\n", buildinfo.Version)
			if buildinfo.Commit != "" {
				fmt.Printf("commit: %s\n", buildinfo.Commit)
			}
			if buildinfo.Date != "" {
				fmt.Printf("built: %s\n", buildinfo.Date)
			}
		},
	}
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configDir == "" {
				configDir = config.GetDefaultConfigDir()
			}
			path := filepath.Join(configDir, "config.toml")
			if err := config.WriteDefaultConfig(path); err != nil {
				return errors.Wrap(err, "failed to write config")
			}
			fmt.Printf("Config written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory to write config.toml into")
	return cmd
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cross-seed daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return errors.Wrap(err, "failed to load config")
			}
			if dataDir != "" {
				cfg.SetDataDir(dataDir)
			}
			cfg.ApplyLogConfig()

			return serve(cfg)
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "config directory or path to config.toml")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override the data directory")
	return cmd
}

func serve(cfg *config.AppConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(ctx, cfg.GetDatabasePath())
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer db.Close()

	cache, err := torrentcache.New(cfg.GetTorrentCacheDir())
	if err != nil {
		return errors.Wrap(err, "failed to open torrent cache")
	}

	conn := db.Conn()
	searcheeStore := models.NewSearcheeStore(conn)
	indexerStore := models.NewIndexerStore(conn)
	decisionStore := models.NewDecisionStore(conn)
	collisionStore := models.NewCollisionStore(conn)
	conflictRuleStore := models.NewConflictRuleStore(conn)
	clientSearcheeStore := models.NewClientSearcheeStore(conn)
	jobLogStore := models.NewJobLogStore(conn)

	// Register configured indexers.
	for _, ic := range cfg.Config.Indexers {
		if _, err := indexerStore.Upsert(ctx, ic.Name, ic.URL, ic.APIKey); err != nil {
			return errors.Wrapf(err, "failed to register indexer %s", ic.Name)
		}
	}

	// Build client drivers.
	var drivers []torrentclient.Driver
	for _, cc := range cfg.Config.Clients {
		switch cc.Type {
		case "", "qbittorrent":
			drivers = append(drivers, torrentclient.NewQBittorrent(cc.Host, cc.Username, cc.Password))
		default:
			return errors.Errorf("unsupported torrent client type %q", cc.Type)
		}
	}
	syncer := torrentclient.NewSyncer(drivers, clientSearcheeStore)

	guidMap := torrentcache.NewGuidMap()
	if err := guidMap.Rebuild(ctx, decisionStore.GuidInfoHashPairs); err != nil {
		log.Warn().Err(err).Msg("Failed to rebuild guid correlation map")
	} else {
		log.Debug().Int("entries", guidMap.Len()).Msg("Rebuilt guid correlation map")
	}

	resolver := conflict.NewResolver(conflictRuleStore, indexerStore, clientSearcheeStore, syncer)
	torznabService := torznab.NewService(indexerStore, cfg.Config.SnatchTimeoutSeconds)

	engine := decision.NewEngine(
		conn,
		torznabService,
		cache,
		guidMap,
		searcheeStore,
		decisionStore,
		collisionStore,
		indexerStore,
		clientSearcheeStore,
		resolver,
		decision.SettingsFromConfig(cfg.Config),
		decision.NewMetrics(),
	)

	cfg.RegisterReloadListener(func(c *domain.Config) {
		engine.UpdateSettings(decision.SettingsFromConfig(c))
		log.Info().Msg("Decision engine settings reloaded")
	})

	searchService := search.NewService(
		cfg.Config,
		engine,
		torznabService,
		syncer,
		cache,
		searcheeStore,
		decisionStore,
		collisionStore,
		clientSearcheeStore,
		indexerStore,
	)

	// Initial client mirror so identity checks see real state.
	if err := syncer.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial client sync failed")
	}

	sched := scheduler.New(jobLogStore)
	registerJobs(sched, cfg.Config, searchService)
	sched.Start(ctx)
	defer sched.Stop()

	server := api.NewServer(api.Dependencies{
		Config:              cfg,
		ConflictRuleStore:   conflictRuleStore,
		IndexerStore:        indexerStore,
		ClientSearcheeStore: clientSearcheeStore,
		DecisionStore:       decisionStore,
		CollisionStore:      collisionStore,
		SearchService:       searchService,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func registerJobs(sched *scheduler.Scheduler, cfg *domain.Config, searchService *search.Service) {
	sched.Register(&scheduler.Job{
		Name:    scheduler.JobRSS,
		Cadence: cfg.RSSCadence(),
		Exec:    searchService.RunRSS,
	})

	sched.Register(&scheduler.Job{
		Name:    scheduler.JobSearch,
		Cadence: cfg.SearchCadence(),
		Exec:    searchService.RunSearch,
	})

	sched.Register(&scheduler.Job{
		Name:    scheduler.JobUpdateIndexerCaps,
		Cadence: cfg.CapsRefreshCadence(),
		Exec:    searchService.RunCapsRefresh,
	})

	sched.Register(&scheduler.Job{
		Name:    scheduler.JobInject,
		Cadence: cfg.InjectCadence(),
		Exec:    searchService.RunInject,
		ShouldRun: func() bool {
			return cfg.Action == domain.ActionInject
		},
	})

	sched.Register(&scheduler.Job{
		Name:    scheduler.JobCleanup,
		Cadence: cfg.CleanupCadence(),
		Exec:    searchService.RunCleanup,
	})

	sched.Register(&scheduler.Job{
		Name:    scheduler.JobCollisionRecheck,
		Cadence: cfg.CollisionRecheckCadence(),
		Exec:    searchService.RunCollisionRecheck,
		ShouldRun: func() bool {
			return cfg.UseClientTorrents
		},
	})
}
