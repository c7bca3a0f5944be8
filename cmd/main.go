package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/imtaco/voice-client-exp/control"
	"github.com/imtaco/voice-client-exp/internal/config"
	"github.com/imtaco/voice-client-exp/internal/gateway"
	"github.com/imtaco/voice-client-exp/internal/httputil"
	"github.com/imtaco/voice-client-exp/internal/log"
	"github.com/imtaco/voice-client-exp/internal/otel"
	"github.com/imtaco/voice-client-exp/internal/rtc"
	"github.com/imtaco/voice-client-exp/internal/workflow"
	"github.com/imtaco/voice-client-exp/voice"
	"github.com/imtaco/voice-client-exp/voice/coordinator"
	"github.com/imtaco/voice-client-exp/voice/devices"
	"github.com/imtaco/voice-client-exp/voice/roster"
	"github.com/imtaco/voice-client-exp/voice/session"
)

type Config struct {
	App     config.App      `mapstructure:"app"`
	Http    httputil.Config `mapstructure:"http"`
	Gateway gateway.Config  `mapstructure:"gateway"`
	Otel    otel.Config     `mapstructure:"otel"`
	UserID  string          `mapstructure:"user_id"`
	DataDir string          `mapstructure:"data_dir"`
}

func loadConfig() (*Config, error) {
	return config.Load(&Config{}, func(v *viper.Viper) {
		v.SetDefault("user_id", "")
		v.SetDefault("data_dir", "")

		config.Setup(v, "app")
		gateway.Setup(v, "gateway")
		otel.Setup(v, "otel")
		httputil.Setup(v, "http")

		// local control API binds loopback only
		v.SetDefault("http.addr", "127.0.0.1:8090")
	})
}

// eventRelay breaks the construction cycle between the gateway client and
// the coordinator: the client needs an event sink before the coordinator
// exists, and the coordinator needs the client as its outbound gateway.
type eventRelay struct {
	sink atomic.Pointer[coordinator.Coordinator]
}

func (r *eventRelay) OnVoiceServerUpdate(update voice.ServerUpdate) {
	if c := r.sink.Load(); c != nil {
		c.OnVoiceServerUpdate(update)
	}
}

func (r *eventRelay) OnVoiceStateSync(channelID voice.ChannelID, states []voice.State) {
	if c := r.sink.Load(); c != nil {
		c.OnVoiceStateSync(channelID, states)
	}
}

func (r *eventRelay) OnVoiceStateUpdate(state voice.State) {
	if c := r.sink.Load(); c != nil {
		c.OnVoiceStateUpdate(state)
	}
}

func main() {
	config, err := loadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration", err)
	}

	logger, err := log.NewLogger(config.App.LogConfigFile)
	if err != nil {
		log.Fatal("Failed to create logger", err)
	}
	defer logger.Sync()

	// global background context
	ctx := context.Background()

	// Initialize OpenTelemetry
	otelShutdown, err := otel.Init(ctx, &config.Otel, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OTEL provider", log.Error(err))
	}

	logger.Info("Starting Voice Client...")

	if config.UserID == "" {
		logger.Fatal("user_id is required")
	}

	dataDir := config.DataDir
	if dataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			logger.Fatal("Failed to resolve config dir", log.Error(err))
		}
		dataDir = filepath.Join(base, "voice-client")
	}

	// Initialize device registry with persisted selections
	store, err := devices.OpenStore(dataDir)
	if err != nil {
		logger.Fatal("Failed to open device store", log.Error(err))
	}
	registry := devices.NewRegistry(rtc.NewDeviceEnumerator(), store, logger.Module("Devices"))
	if err := registry.Load(ctx); err != nil {
		logger.Warn("Failed to load device selections", log.Error(err))
	}
	if err := registry.Refresh(ctx); err != nil {
		logger.Warn("Device enumeration failed at startup", log.Error(err))
	}

	// Initialize media engine and session controller
	engine, err := rtc.NewEngine(logger.Module("RTC"))
	if err != nil {
		logger.Fatal("Failed to create media engine", log.Error(err))
	}
	sess := session.NewController(engine, nil, logger.Module("Session"))

	rosterState := roster.New()

	relay := &eventRelay{}
	gwClient := gateway.New(&config.Gateway, relay, logger.Module("Gateway"))

	coord := coordinator.New(coordinator.Config{
		UserID:  voice.UserID(config.UserID),
		Session: sess,
		Gateway: gwClient,
		Roster:  rosterState,
		Devices: registry,
		Logger:  logger.Module("Coordinator"),
	})
	relay.sink.Store(coord)

	// Initialize local control API
	router := control.NewRouter(coord, registry, rosterState, logger.Module("Control"))
	server := httputil.NewServer(&config.Http, router.Handler())

	runCtx, cancel := context.WithCancel(ctx)

	// Start components
	go func() {
		if err := coord.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("Coordinator stopped", log.Error(err))
		}
	}()
	go func() {
		if err := gwClient.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("Gateway client stopped", log.Error(err))
		}
	}()

	// Start HTTP server in goroutine
	go func() {
		logger.Info("Starting control API server", log.String("addr", config.Http.Addr))
		if err := server.Listen(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start control API server", log.Error(err))
		}
	}()

	// Graceful shutdown
	cleanup := func(ctx context.Context) {
		server.Shutdown(ctx)

		if err := coord.Leave(ctx); err != nil {
			logger.Error("Error leaving voice channel", log.Error(err))
		}
		cancel()

		if err := store.Close(); err != nil {
			logger.Error("Error closing device store", log.Error(err))
		}
		if err := otelShutdown(ctx); err != nil {
			logger.Error("Failed to shutdown OTEL", log.Error(err))
		}
	}
	workflow.WaitGracefulShutdown(ctx, logger.Module("CleanUp"), cleanup, config.App.ShutdownTimeout)
}
