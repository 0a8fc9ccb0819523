// Package main provides the FuseDB CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/orneryd/fusedb/pkg/config"
	"github.com/orneryd/fusedb/pkg/entity"
	"github.com/orneryd/fusedb/pkg/schema"
	"github.com/orneryd/fusedb/pkg/server"
	"github.com/orneryd/fusedb/pkg/source"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fusedb",
		Short: "FuseDB - Multi-Source Entity Composition Engine",
		Long: `FuseDB composes logical entities from fields stored across
heterogeneous backends behind one list/read/create/update/delete API.

Features:
  • Declarative YAML entity definitions
  • Relational, document, search and blob source adapters
  • View-driven source participation
  • Concurrent fan-out reads with a single completion barrier
  • Primary-first write pipeline with foreign key propagation`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("FuseDB v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the FuseDB HTTP API server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "", "Config file path (default: auto-detect)")
	serveCmd.Flags().Int("http-port", 0, "HTTP API port (overrides config)")
	serveCmd.Flags().String("address", "", "Bind address (overrides config)")
	serveCmd.Flags().String("schema-dir", "", "Entity definition directory (overrides config)")
	rootCmd.AddCommand(serveCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate entity definitions without starting the server",
		RunE:  runValidate,
	}
	validateCmd.Flags().String("schema-dir", "./schemas", "Entity definition directory")
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}

	if port, _ := cmd.Flags().GetInt("http-port"); port > 0 {
		cfg.Server.Port = port
	}
	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		cfg.Server.Address = addr
	}
	if dir, _ := cmd.Flags().GetString("schema-dir"); dir != "" {
		cfg.Schema.Dir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := entity.NewLogger()
	logger.Log("INFO", "starting fusedb", map[string]any{"config": cfg.String()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := server.New(rt.types, server.Config{
		Address:      cfg.Server.Address,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, logger)
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Log("INFO", "http server listening", map[string]any{"addr": srv.Addr()})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log("INFO", "shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

func runValidate(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("schema-dir")
	defs, err := schema.LoadDir(dir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if _, err := schema.FromMap(def.Fields); err != nil {
			return fmt.Errorf("entity %q: %w", def.Entity, err)
		}
		fmt.Printf("✓ %s (%d bindings)\n", def.Entity, len(def.Bindings))
	}
	fmt.Printf("%d entity definition(s) valid\n", len(defs))
	return nil
}

// runtime holds the constructed entity types and the shared backend
// handles they were built on.
type runtime struct {
	types   map[string]*entity.Type
	sources []source.Source
	pgPool  *pgxpool.Pool
	badger  *badger.DB
}

func (rt *runtime) close() {
	for _, s := range rt.sources {
		if err := s.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing source: %v\n", err)
		}
	}
	if rt.pgPool != nil {
		rt.pgPool.Close()
	}
	if rt.badger != nil {
		if err := rt.badger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing badger: %v\n", err)
		}
	}
}

// buildRuntime loads every entity definition, constructs one adapter per
// binding declaration, and registers the resulting entity types. Backend
// handles (the Postgres pool, the Badger store) are opened lazily, on the
// first binding that needs them, and shared across entities.
func buildRuntime(ctx context.Context, cfg *config.Config, logger entity.Logger) (*runtime, error) {
	defs, err := schema.LoadDir(cfg.Schema.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading entity definitions: %w", err)
	}

	rt := &runtime{types: make(map[string]*entity.Type)}
	for _, def := range defs {
		tree, err := schema.FromMap(def.Fields)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("entity %q: %w", def.Entity, err)
		}

		bindings := make([]*source.Binding, 0, len(def.Bindings))
		for i := range def.Bindings {
			b, err := rt.buildBinding(ctx, cfg, &def.Bindings[i])
			if err != nil {
				rt.close()
				return nil, fmt.Errorf("entity %q: %w", def.Entity, err)
			}
			bindings = append(bindings, b)
		}

		registry, err := source.NewRegistry(bindings...)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("entity %q: %w", def.Entity, err)
		}
		typ, err := entity.NewType(def.Entity, tree, registry, entity.WithLogger(logger))
		if err != nil {
			rt.close()
			return nil, err
		}
		rt.types[def.Entity] = typ
	}
	return rt, nil
}

func (rt *runtime) buildBinding(ctx context.Context, cfg *config.Config, decl *schema.BindingDecl) (*source.Binding, error) {
	rel, err := source.ParseRelationship(decl.Relationship)
	if err != nil {
		return nil, fmt.Errorf("binding %q: %w", decl.Name, err)
	}

	var src source.Source
	switch decl.Adapter {
	case "memory":
		src = source.NewMemorySource(decl.Table, "id")
	case "badger":
		if rt.badger == nil {
			db, err := source.OpenBadger(cfg.Sources.Badger.Dir)
			if err != nil {
				return nil, fmt.Errorf("binding %q: opening badger: %w", decl.Name, err)
			}
			rt.badger = db
		}
		src = source.NewBadgerSource(rt.badger, decl.Table, "id")
	case "postgres":
		if rt.pgPool == nil {
			if cfg.Sources.Postgres.DSN == "" {
				return nil, fmt.Errorf("binding %q: postgres adapter requires FUSEDB_POSTGRES_DSN", decl.Name)
			}
			pool, err := source.OpenPostgres(ctx, cfg.Sources.Postgres.DSN)
			if err != nil {
				return nil, fmt.Errorf("binding %q: connecting to postgres: %w", decl.Name, err)
			}
			rt.pgPool = pool
		}
		src = source.NewPostgresSource(rt.pgPool, decl.Table, "id")
	case "search":
		src = source.NewSearchSource(decl.Table, "id", decl.TextFields)
	case "fsblob":
		src = source.NewFSBlobSource(cfg.Sources.Blob.Dir, "id")
	default:
		return nil, fmt.Errorf("binding %q: unknown adapter %q", decl.Name, decl.Adapter)
	}

	if err := src.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("binding %q: initializing: %w", decl.Name, err)
	}
	rt.sources = append(rt.sources, src)

	return &source.Binding{
		Name:         decl.Name,
		Source:       src,
		Relationship: rel,
		IsPrimary:    decl.Primary,
		LocalKey:     decl.LocalKey,
		ForeignKey:   decl.ForeignKey,
		Field:        decl.Field,
		Queries:      decl.Queries,
	}, nil
}
