// Command vibenote keeps a local collection of notes and assets in sync
// with a GitHub-style repository.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zksecurity/vibenote/internal/blobcache"
	"github.com/zksecurity/vibenote/internal/config"
	"github.com/zksecurity/vibenote/internal/github"
	"github.com/zksecurity/vibenote/internal/logging"
	"github.com/zksecurity/vibenote/internal/metrics"
	"github.com/zksecurity/vibenote/internal/store"
	"github.com/zksecurity/vibenote/internal/store/kv"
	vsync "github.com/zksecurity/vibenote/internal/sync"
)

var rootCmd = &cobra.Command{
	Use:           "vibenote",
	Short:         "Offline-first notes synced to a GitHub repository",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vibenote: %v\n", err)
		os.Exit(1)
	}
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "vibenote: init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vibenote: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the durable KV state and binds a store to the
// configured repository. The caller closes both.
func openStore() (*store.Store, kv.Store, error) {
	if cfg.Repo == "" {
		return nil, nil, fmt.Errorf("no repository configured (set VIBENOTE_REPO)")
	}
	kvs, err := kv.OpenSQLite(cfg.StatePath)
	if err != nil {
		return nil, nil, err
	}
	return store.New(kvs, cfg.Repo), kvs, nil
}

// openRemote builds the repository API client from configuration.
func openRemote() (*github.Client, error) {
	owner, name, err := cfg.SplitRepo()
	if err != nil {
		return nil, err
	}

	var tokens github.TokenSource
	switch {
	case cfg.AppID != 0 && cfg.AppPrivateKeyFile != "":
		pemKey, err := os.ReadFile(cfg.AppPrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read app private key: %w", err)
		}
		tokens, err = github.NewAppTokenSource(
			cfg.AppID, cfg.AppInstallationID, pemKey, cfg.APIBaseURL)
		if err != nil {
			return nil, err
		}
	default:
		tokens = github.StaticToken(cfg.Token)
	}

	return github.New(github.Config{
		BaseURL: cfg.APIBaseURL,
		Owner:   owner,
		Repo:    name,
		Tokens:  tokens,
	}), nil
}

// openEngine wires store, remote, and blob cache into a sync engine.
func openEngine(st *store.Store) (*vsync.Engine, error) {
	remote, err := openRemote()
	if err != nil {
		return nil, err
	}

	var cache blobcache.Cache = blobcache.Null{}
	if cfg.CacheDir != "" {
		disk, err := blobcache.NewDisk(cfg.CacheDir, cfg.CacheMaxSize)
		if err != nil {
			logging.L().Warn("blob cache disabled", zap.Error(err))
		} else {
			cache = disk
		}
	}

	return vsync.New(st, remote, cfg.Branch, cache), nil
}

// serveMetrics exposes the Prometheus endpoint when configured.
func serveMetrics() {
	if cfg.MetricsAddr == "" {
		return
	}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logging.L().Warn("metrics listener stopped", zap.Error(err))
		}
	}()
}
