package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/config"
	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/offline"
	"github.com/go-i2p/go-stanzarouter/lib/router"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
	"github.com/go-i2p/go-stanzarouter/lib/util"
	"github.com/go-i2p/go-stanzarouter/lib/util/signals"
	"github.com/go-i2p/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var log = logger.GetGoI2PLogger()

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.WithError(err).Error("stanzarouter failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "stanzarouter",
		Short:        "Presence-aware stanza router",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.InitConfig()
		},
		RunE: runRouter,
	}
	root.PersistentFlags().StringVar(&config.CfgFile, "config", "",
		"config file (default $HOME/"+config.STANZAROUTER_BASE_DIR+"/config.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the router until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runRouter,
	})
	root.AddCommand(newOfflineCommand())
	return root
}

func runRouter(*cobra.Command, []string) error {
	cfg := config.NewRouterConfigFromViper()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r, err := router.CreateRouter(cfg, router.Options{Registerer: reg})
	if err != nil {
		return oops.Wrapf(err, "failed to create stanza router")
	}
	util.RegisterCloser(r)

	if cfg.Metrics.Address != "" {
		util.RegisterCloser(startMetricsServer(cfg.Metrics.Address, reg))
	}

	signals.RegisterReloadHandler(func() {
		if err := config.InitConfig(); err != nil {
			log.WithError(err).Warn("config reload failed")
			return
		}
		if err := config.Validate(config.NewRouterConfigFromViper()); err != nil {
			log.WithError(err).Warn("reloaded config is invalid")
			return
		}
		log.Info("config reloaded, restart to apply routing changes")
	})
	signals.RegisterPreShutdownHandler(func() {
		if err := r.Drain(); err != nil {
			log.WithError(err).Warn("failed to drain retries")
		}
	})
	signals.RegisterInterruptHandler(r.Stop)
	go signals.Handle()

	log.WithField("local_domains", cfg.LocalDomains).Info("starting stanza router")
	r.Start()
	r.Wait()
	signals.StopHandle()

	return util.CloseAll()
}

func startMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("address", addr).Error("metrics server failed")
		}
	}()
	log.WithField("address", addr).Info("serving metrics")
	return srv
}

func newOfflineCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Inspect and maintain the SQLite offline queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "count <jid>",
		Short: "Print the number of stanzas queued for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *offline.SQLiteStore) error {
				owner, err := parseOwner(args[0])
				if err != nil {
					return err
				}
				n, err := store.Count(cmd.Context(), owner)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list <jid>",
		Short: "Print the stanzas queued for an owner as YAML without removing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *offline.SQLiteStore) error {
				owner, err := parseOwner(args[0])
				if err != nil {
					return err
				}
				queued, err := store.Peek(cmd.Context(), owner)
				if err != nil {
					return err
				}
				return writeQueueYAML(cmd, queued)
			})
		},
	})

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Remove queued stanzas older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return oops.Errorf("--older-than must be positive")
			}
			return withStore(func(store *offline.SQLiteStore) error {
				n, err := store.Purge(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d stanzas\n", n)
				return err
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "age above which queued stanzas are removed")
	cmd.AddCommand(purge)

	return cmd
}

// withStore opens the configured SQLite queue for the duration of fn.
func withStore(fn func(*offline.SQLiteStore) error) (err error) {
	cfg := config.NewRouterConfigFromViper()
	if cfg.Offline.Backend != config.BackendSQLite {
		return oops.Errorf("offline commands need the sqlite backend, configured backend is %q", cfg.Offline.Backend)
	}
	if !util.CheckFileExists(cfg.Offline.Path) {
		return oops.Errorf("offline database %s does not exist", cfg.Offline.Path)
	}

	store, err := offline.OpenSQLite(offline.SQLiteConfig{Path: cfg.Offline.Path, PoolSize: 1})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(store)
}

func parseOwner(s string) (jid.ID, error) {
	id, err := jid.Parse(s)
	if err != nil {
		return jid.ID{}, err
	}
	if id.IsZero() {
		return jid.ID{}, oops.Errorf("empty JID")
	}
	return id.GeneralForm(), nil
}

type queuedEntry struct {
	ID     string    `yaml:"id"`
	Type   string    `yaml:"type"`
	From   string    `yaml:"from"`
	To     string    `yaml:"to"`
	Queued time.Time `yaml:"queued"`
	Body   string    `yaml:"body,omitempty"`
}

func writeQueueYAML(cmd *cobra.Command, queued []stanza.TimedStanza) error {
	entries := make([]queuedEntry, 0, len(queued))
	for _, ts := range queued {
		entries = append(entries, queuedEntry{
			ID:     ts.Stanza.ID,
			Type:   string(ts.Stanza.Type),
			From:   ts.Stanza.From.String(),
			To:     ts.Stanza.To.String(),
			Queued: ts.Stamp,
			Body:   string(ts.Stanza.Payload),
		})
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(entries); err != nil {
		return oops.Wrapf(err, "encode offline queue")
	}
	return enc.Close()
}
