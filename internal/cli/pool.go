package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gradekit/gradesvc/internal/observability"
	"github.com/gradekit/gradesvc/internal/sandboxpool"
)

// poolLanguageConfig is one language's block of pool.yaml.
type poolLanguageConfig struct {
	MinIdle     int    `yaml:"min_idle"`
	MaxTotal    int    `yaml:"max_total"`
	IdleTTL     string `yaml:"idle_ttl"`
	RunningTTL  string `yaml:"running_ttl"`
	Image       string `yaml:"image"`
	AcquireWait string `yaml:"acquire_wait"`
}

// poolConfigFile is pool.yaml's top-level shape (spec §6 "Pool config").
type poolConfigFile struct {
	FleetLabel  string                        `yaml:"fleet_label"`
	MetricsAddr string                        `yaml:"metrics_addr"`
	Languages   map[string]poolLanguageConfig `yaml:"languages"`
}

func loadPoolConfig(path string) (*poolConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pool config %q: %w", path, err)
	}
	var cfg poolConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pool config %q: %w", path, err)
	}
	if cfg.FleetLabel == "" {
		cfg.FleetLabel = "gradesvc"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	return &cfg, nil
}

func (c poolLanguageConfig) toSandboxConfig() (sandboxpool.Config, error) {
	cfg := sandboxpool.Config{
		MinIdle:  c.MinIdle,
		MaxTotal: c.MaxTotal,
		Image:    c.Image,
	}
	var err error
	if c.IdleTTL != "" {
		if cfg.IdleTTL, err = time.ParseDuration(c.IdleTTL); err != nil {
			return cfg, fmt.Errorf("idle_ttl: %w", err)
		}
	}
	if c.RunningTTL != "" {
		if cfg.RunningTTL, err = time.ParseDuration(c.RunningTTL); err != nil {
			return cfg, fmt.Errorf("running_ttl: %w", err)
		}
	}
	if c.AcquireWait != "" {
		if cfg.AcquireWait, err = time.ParseDuration(c.AcquireWait); err != nil {
			return cfg, fmt.Errorf("acquire_wait: %w", err)
		}
	}
	return cfg, nil
}

func newPoolCmd() *cobra.Command {
	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage the sandbox pool fleet",
	}
	poolCmd.AddCommand(newPoolUpCmd())
	return poolCmd
}

func newPoolUpCmd() *cobra.Command {
	var configPath string
	up := &cobra.Command{
		Use:   "up",
		Short: "Initialize the sandbox fleet and serve /healthz and /metrics until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoolUp(cmd, configPath)
		},
	}
	up.Flags().StringVar(&configPath, "config", "", "path to pool.yaml (required)")
	up.MarkFlagRequired("config")
	return up
}

func runPoolUp(cmd *cobra.Command, configPath string) error {
	file, err := loadPoolConfig(configPath)
	if err != nil {
		return err
	}

	configs := make(map[string]sandboxpool.Config, len(file.Languages))
	for lang, block := range file.Languages {
		cfg, err := block.toSandboxConfig()
		if err != nil {
			return fmt.Errorf("language %q: %w", lang, err)
		}
		configs[lang] = cfg
	}

	manager := sandboxpool.NewManager(file.FleetLabel)
	prom := observability.NewPromMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Initialize(ctx, configs); err != nil {
		return fmt.Errorf("initialize pool: %w", err)
	}
	defer manager.Shutdown()

	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: file.MetricsAddr, Handler: mux}

	go reportPoolStats(ctx, manager, prom, configs)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "pool up: serving /healthz and /metrics on %s\n", file.MetricsAddr)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("metrics server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func reportPoolStats(ctx context.Context, manager *sandboxpool.Manager, prom *observability.PromMetrics, configs map[string]sandboxpool.Config) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for lang := range configs {
				idle, _, total, ok := manager.Stats(lang)
				if !ok {
					continue
				}
				prom.PoolIdle.WithLabelValues(lang).Set(float64(idle))
				prom.PoolTotal.WithLabelValues(lang).Set(float64(total))
			}
		}
	}
}
