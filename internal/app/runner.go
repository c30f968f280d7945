package app

import (
	"context"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	clts "polycopy/clients"
	"polycopy/clients/gist"
	"polycopy/config"
	"polycopy/internal/storage"

	"go.uber.org/zap"
)

// ensure Runner implements ConfigObserver
var _ config.ConfigObserver = (*Runner)(nil)

// Build info - populated from embedded VCS info at init time
var (
	BuildCommit = "dev"
	BuildTime   = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if setting.Value != "" {
					BuildCommit = setting.Value
				}
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	}
}

// Stores groups the persistence backends. Snapshots may be nil.
type Stores struct {
	Backend   string
	Users     storage.UserStore
	History   storage.SessionStore
	Snapshots storage.SnapshotStore
}

type Runner struct {
	clients         *clts.Clients
	liveConfig      *config.LiveConfig
	settingsManager *config.SettingsManager
	stores          Stores
	auth            *TokenAuth
	hub             *PriceHub
	sessions        *SessionManager
	persister       *SnapshotPersister
	healthServer    *http.Server

	startTime time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// RunnerOption customizes a Runner.
type RunnerOption func(*runnerOptions)

type runnerOptions struct {
	gateway GatewayFactory
	data    PolymarketData
}

// WithGatewayFactory overrides how trading gateways are built.
func WithGatewayFactory(f GatewayFactory) RunnerOption {
	return func(o *runnerOptions) { o.gateway = f }
}

// WithMarketData overrides the Polymarket data client.
func WithMarketData(d PolymarketData) RunnerOption {
	return func(o *runnerOptions) { o.data = d }
}

func NewRunner(
	clients *clts.Clients,
	liveConfig *config.LiveConfig,
	settingsManager *config.SettingsManager,
	stores Stores,
	opts ...RunnerOption,
) *Runner {
	logger := clients.Logger
	if logger == nil {
		logger = zap.NewNop()
		clients.Logger = logger
	}
	cfg := liveConfig.Get()

	o := runnerOptions{}
	if clients.Polymarket != nil {
		o.data = clients.Polymarket
	}
	o.gateway = NewClobGatewayFactory(logger.Named("clob"), cfg)
	for _, opt := range opts {
		opt(&o)
	}

	var feed marketFeed
	if clients.PolymarketEvents != nil {
		feed = clients.PolymarketEvents
	}
	hub := NewPriceHub(logger, feed)

	sessions := NewSessionManager(logger, SessionManagerDeps{
		Live:       liveConfig,
		API:        o.data,
		Users:      stores.Users,
		History:    stores.History,
		Snapshots:  stores.Snapshots,
		Notifier:   clients.Notifier,
		Hub:        hub,
		NewGateway: o.gateway,
	})

	var gistStore gist.Storage
	if clients.Gist != nil {
		gistStore = clients.Gist
	}

	return &Runner{
		clients:         clients,
		liveConfig:      liveConfig,
		settingsManager: settingsManager,
		stores:          stores,
		auth:            NewTokenAuth(cfg.HealthServer.APIToken),
		hub:             hub,
		sessions:        sessions,
		persister:       NewSnapshotPersister(logger, sessions, stores.Snapshots, stores.History, gistStore, cfg.Monitor.SnapshotInterval),
		startTime:       time.Now(),
		done:            make(chan struct{}),
	}
}

// Sessions returns the session manager.
func (r *Runner) Sessions() *SessionManager {
	return r.sessions
}

// OnConfigUpdate is called when the config changes.
// Implements config.ConfigObserver interface.
func (r *Runner) OnConfigUpdate(cfg *config.Config) {
	r.clients.Logger.Info("config update received, propagating to components",
		zap.Duration("snapshotInterval", cfg.Monitor.SnapshotInterval),
		zap.Int("activeSessions", r.sessions.Count()),
	)
	r.persister.SetInterval(cfg.Monitor.SnapshotInterval)
}

func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	logger := r.clients.Logger
	cfg := r.liveConfig.Get()

	// Register as config observer for hot-reload
	r.liveConfig.AddObserver(r)
	defer r.liveConfig.RemoveObserver(r)

	recoverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if n, err := r.persister.RecoverOrphans(recoverCtx); err != nil {
		logger.Warn("failed to recover interrupted sessions", zap.Error(err))
	} else if n > 0 {
		logger.Info("recorded sessions interrupted by the last shutdown", zap.Int("count", n))
	}
	cancel()

	// The persister outlives ctx so its last save follows session shutdown.
	persistCtx, stopPersist := context.WithCancel(context.Background())
	defer stopPersist()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		r.persister.Run(persistCtx)
	}()

	// Start health check server if enabled
	if cfg.HealthServer.Enabled {
		r.startHealthServer(cfg.HealthServer.Port)
		logger.Info("health server started",
			zap.Int("port", cfg.HealthServer.Port),
			zap.Bool("auth", r.auth.Enabled()),
		)
	}

	logger.Info("polycopy running",
		zap.String("storage", r.stores.Backend),
		zap.Bool("priceFeed", r.clients.PolymarketEvents != nil),
	)

	<-ctx.Done()
	logger.Info("runner shutting down", zap.Int("activeSessions", r.sessions.Count()))

	r.closeOnce.Do(func() { close(r.done) })
	r.stopHealthServer()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	if err := r.sessions.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sessions did not finish before shutdown deadline", zap.Error(err))
	}
	shutdownCancel()
	stopPersist()

	wg.Wait()
	return nil
}

// ServiceStats holds comprehensive service statistics.
type ServiceStats struct {
	// Build info
	Build struct {
		Commit    string `json:"commit"`
		Time      string `json:"time,omitempty"`
		GoVersion string `json:"go_version"`
	} `json:"build"`

	// Service info
	StartTime string `json:"start_time"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_seconds"`

	PriceFeed PriceHubStats `json:"price_feed"`

	Sessions struct {
		Active int           `json:"active"`
		List   []SessionInfo `json:"list"`
	} `json:"sessions"`

	Storage struct {
		Backend          string `json:"backend"`
		Snapshots        bool   `json:"snapshots"`
		LastSnapshotAt   string `json:"last_snapshot_at,omitempty"`
		LastSnapshotSize int    `json:"last_snapshot_size"`
	} `json:"storage"`

	// Notification status
	Notifications struct {
		DiscordEnabled   bool   `json:"discord_enabled"`
		DiscordChannelID string `json:"discord_channel_id,omitempty"`
		TelegramEnabled  bool   `json:"telegram_enabled"`
		TelegramChatID   string `json:"telegram_chat_id,omitempty"`
	} `json:"notifications"`

	// Runtime stats
	Runtime struct {
		Goroutines int    `json:"goroutines"`
		HeapAlloc  uint64 `json:"heap_alloc"`  // bytes currently allocated on heap
		HeapSys    uint64 `json:"heap_sys"`    // bytes obtained from system for heap
		HeapInuse  uint64 `json:"heap_inuse"`  // bytes in in-use spans
		StackInuse uint64 `json:"stack_inuse"` // bytes in stack spans
		NumGC      uint32 `json:"num_gc"`      // number of completed GC cycles
		LastGC     string `json:"last_gc"`     // time of last GC
		NumCPU     int    `json:"num_cpu"`
		GOOS       string `json:"goos"`
		GOARCH     string `json:"goarch"`
	} `json:"runtime"`
}

func (r *Runner) GetStats() ServiceStats {
	var stats ServiceStats
	cfg := r.liveConfig.Get()

	stats.Build.Commit = BuildCommit
	stats.Build.Time = BuildTime
	stats.Build.GoVersion = runtime.Version()

	uptime := time.Since(r.startTime)
	stats.StartTime = r.startTime.UTC().Format(time.RFC3339)
	stats.Uptime = uptime.Round(time.Second).String()
	stats.UptimeSec = int64(uptime.Seconds())

	stats.PriceFeed = r.hub.Stats()

	stats.Sessions.List = r.sessions.List()
	stats.Sessions.Active = len(stats.Sessions.List)

	stats.Storage.Backend = nz(r.stores.Backend, "memory")
	stats.Storage.Snapshots = r.stores.Snapshots != nil
	if at, n := r.persister.LastSave(); !at.IsZero() {
		stats.Storage.LastSnapshotAt = at.UTC().Format(time.RFC3339)
		stats.Storage.LastSnapshotSize = n
	}

	stats.Notifications.DiscordEnabled = cfg.Discord.BotToken != ""
	stats.Notifications.TelegramEnabled = cfg.Telegram.BotToken != ""
	if cfg.IsProd {
		stats.Notifications.DiscordChannelID = cfg.Discord.ProdChannelID
		stats.Notifications.TelegramChatID = cfg.Telegram.ProdChatID
	} else {
		stats.Notifications.DiscordChannelID = cfg.Discord.BetaChannelID
		stats.Notifications.TelegramChatID = cfg.Telegram.BetaChatID
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.Runtime.Goroutines = runtime.NumGoroutine()
	stats.Runtime.HeapAlloc = memStats.HeapAlloc
	stats.Runtime.HeapSys = memStats.HeapSys
	stats.Runtime.HeapInuse = memStats.HeapInuse
	stats.Runtime.StackInuse = memStats.StackInuse
	stats.Runtime.NumGC = memStats.NumGC
	if memStats.LastGC > 0 {
		stats.Runtime.LastGC = time.Unix(0, int64(memStats.LastGC)).UTC().Format(time.RFC3339)
	}
	stats.Runtime.NumCPU = runtime.NumCPU()
	stats.Runtime.GOOS = runtime.GOOS
	stats.Runtime.GOARCH = runtime.GOARCH

	return stats
}
