package router

import (
	"context"
	"sync"
	"time"

	"github.com/go-i2p/go-stanzarouter/lib/config"
	"github.com/go-i2p/go-stanzarouter/lib/dispatch"
	"github.com/go-i2p/go-stanzarouter/lib/jid"
	"github.com/go-i2p/go-stanzarouter/lib/offline"
	"github.com/go-i2p/go-stanzarouter/lib/presence"
	"github.com/go-i2p/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"go.uber.org/multierr"
)

// Options carries the collaborators a RouterConfig cannot describe. All of
// them are optional.
type Options struct {
	Accounts Accounts
	Roster   Roster
	Outbound Outbound
	Reporter CrashReporter
	// Registerer receives the router metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
	// Storage overrides the offline backend named in the config.
	Storage offline.Storage
}

// Router owns the routing core: directory, local dispatch, offline queue,
// handler and the presence-driven retry machinery.
type Router struct {
	cfg *config.RouterConfig

	directory *presence.MemoryDirectory
	registry  *dispatch.Registry
	storage   offline.Storage
	handler   *Handler
	listener  *Listener
	pool      *RetryPool
	metrics   *Metrics

	unsubscribe func()
	closeChnl   chan struct{}
	running     bool
	runMux      sync.RWMutex
	wg          sync.WaitGroup
}

// CreateRouter creates a router with the provided configuration
func CreateRouter(cfg *config.RouterConfig, opts Options) (*Router, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(opts.Registerer)
	if err != nil {
		return nil, err
	}

	storage := opts.Storage
	if storage == nil {
		storage, err = openStorage(cfg.Offline)
		if err != nil {
			return nil, err
		}
	}

	accounts := opts.Accounts
	if accounts != nil && cfg.Accounts.CacheSize > 0 {
		if accounts, err = NewCachedAccounts(accounts, cfg.Accounts.CacheSize); err != nil {
			return nil, closeOnError(storage, err)
		}
	}

	r := &Router{
		cfg:       cfg,
		directory: presence.NewMemoryDirectory(),
		registry:  dispatch.NewRegistry(),
		storage:   storage,
		metrics:   metrics,
		closeChnl: make(chan struct{}),
	}

	dispatcher := dispatch.NewLocalDispatcher(r.registry, dispatch.LocalDispatcherConfig{
		Concurrency:    cfg.Dispatch.Concurrency,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
	})

	r.handler, err = NewHandler(HandlerConfig{
		Directory:    r.directory,
		Dispatcher:   dispatcher,
		Storage:      storage,
		Accounts:     accounts,
		Roster:       opts.Roster,
		Outbound:     opts.Outbound,
		Metrics:      metrics,
		LocalDomains: cfg.LocalDomains,
		StoreOffline: cfg.StoreOffline,
	})
	if err != nil {
		return nil, closeOnError(storage, err)
	}

	retrier, err := NewRetrier(RetrierConfig{
		Dispatcher:     dispatcher,
		Storage:        storage,
		Metrics:        metrics,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
	})
	if err != nil {
		return nil, closeOnError(storage, err)
	}

	r.pool = NewRetryPool(RetryPoolConfig{
		Workers:   cfg.Retry.Workers,
		QueueSize: cfg.Retry.QueueSize,
		Rate:      cfg.Retry.Rate,
	})

	r.listener, err = NewListener(ListenerConfig{
		Storage:  storage,
		Retrier:  retrier,
		Pool:     r.pool,
		Reporter: opts.Reporter,
		Metrics:  metrics,
		Budget:   cfg.Retry.Budget,
	})
	if err != nil {
		_ = r.pool.Close()
		return nil, closeOnError(storage, err)
	}

	log.WithFields(logger.Fields{
		"at":            "CreateRouter",
		"local_domains": cfg.LocalDomains,
		"store_offline": cfg.StoreOffline,
		"backend":       cfg.Offline.Backend,
	}).Debug("router created")
	return r, nil
}

func openStorage(cfg config.OfflineConfig) (offline.Storage, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return offline.NewMemoryStore(cfg.MaxPerOwner), nil
	case config.BackendSQLite:
		return offline.OpenSQLite(offline.SQLiteConfig{
			Path:        cfg.Path,
			MaxPerOwner: cfg.MaxPerOwner,
		})
	default:
		return nil, oops.Errorf("router: unknown offline backend %q", cfg.Backend)
	}
}

func closeOnError(storage offline.Storage, err error) error {
	return multierr.Append(err, storage.Close())
}

// Handler returns the stanza handler.
func (r *Router) Handler() *Handler { return r.handler }

// Directory returns the resource directory.
func (r *Router) Directory() *presence.MemoryDirectory { return r.directory }

// Storage returns the offline queue.
func (r *Router) Storage() offline.Storage { return r.storage }

// Connect binds ch as the delivery channel of resource and announces the
// resource. The channel is bound first so queued stanzas retried on the
// announcement can reach it.
func (r *Router) Connect(resource presence.Resource, ch dispatch.Channel) error {
	if !resource.ID.IsFull() {
		return oops.Errorf("router: cannot connect general-form ID %s", resource.ID)
	}
	r.registry.Bind(resource.ID, ch)
	if err := r.directory.Put(resource); err != nil {
		r.registry.Unbind(resource.ID)
		return err
	}
	return nil
}

// Disconnect removes the resource with the given full ID and its channel.
func (r *Router) Disconnect(id jid.ID) {
	r.directory.Remove(id)
	r.registry.Unbind(id)
}

// Start subscribes the retry listener to the directory and starts the
// retention purge loop. A stopped router may be started again until it is
// closed.
func (r *Router) Start() {
	r.runMux.Lock()
	defer r.runMux.Unlock()

	if r.running {
		log.WithFields(logger.Fields{
			"at":     "(Router) Start",
			"reason": "router is already running",
		}).Error("Error Starting router")
		return
	}
	log.Debug("Starting router")
	select {
	case <-r.closeChnl:
		// restarted after Stop
		r.closeChnl = make(chan struct{})
	default:
	}
	r.running = true
	r.unsubscribe = r.directory.Subscribe(r.listener)

	if r.cfg.Offline.Retention > 0 {
		r.wg.Add(1)
		go r.purgeLoop(r.closeChnl, r.cfg.Offline.Retention, r.cfg.Offline.PurgeInterval)
	}
}

// Stop unsubscribes the listener and ends the purge loop.
func (r *Router) Stop() {
	r.runMux.Lock()
	defer r.runMux.Unlock()

	if !r.running {
		log.Debug("Router already stopped")
		return
	}
	log.Debug("Stopping router")
	r.running = false
	r.unsubscribe()
	close(r.closeChnl)
}

// Wait blocks until the router is stopped.
func (r *Router) Wait() {
	r.runMux.RLock()
	closeChnl := r.closeChnl
	r.runMux.RUnlock()

	<-closeChnl
	r.wg.Wait()
	log.Debug("Router has stopped")
}

// Drain lets queued retries finish. It is safe to call before Close. The
// retry pool does not reopen: retries scheduled afterwards run inline on the
// presence notification that triggered them.
func (r *Router) Drain() error {
	return r.pool.Close()
}

// Close stops the router, drains pending retries and closes the offline
// store. The router cannot be started again.
func (r *Router) Close() error {
	r.runMux.RLock()
	running := r.running
	r.runMux.RUnlock()
	if running {
		r.Stop()
	}
	r.wg.Wait()

	return multierr.Combine(r.pool.Close(), r.storage.Close())
}

// Purge drops queued stanzas older than the configured retention.
func (r *Router) Purge(ctx context.Context) (int, error) {
	if r.cfg.Offline.Retention <= 0 {
		return 0, nil
	}
	n, err := r.storage.Purge(ctx, time.Now().Add(-r.cfg.Offline.Retention))
	r.metrics.offlineEvent("purged", n)
	return n, err
}

func (r *Router) purgeLoop(stop <-chan struct{}, retention, interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := r.Purge(context.Background())
			if err != nil {
				log.WithError(err).WithField("at", "(Router) purgeLoop").Warn("offline purge failed")
				continue
			}
			if n > 0 {
				log.WithFields(logger.Fields{
					"at":        "(Router) purgeLoop",
					"purged":    n,
					"retention": retention,
				}).Info("purged expired offline stanzas")
			}
		}
	}
}
