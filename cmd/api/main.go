package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/vedirect2mqtt/internal/adapter/actor"
	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/actor"
	"github.com/berfenger/vedirect2mqtt/internal/server"
	"github.com/berfenger/vedirect2mqtt/internal/telemetry"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// init metrics
	collector, gatherer, err := initMetrics(cfg)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, serialActorProvider(cfg, logger), mqttActorProvider(cfg, logger), collector, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, gatherer)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => VEDIRECT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("VEDIRECT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("vedirect")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if err := cfg.Check(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func initMetrics(cfg *config.Config) (telemetry.Collector, prometheus.Gatherer, error) {
	if !cfg.Metrics.Enable {
		return telemetry.Noop(), nil, nil
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := telemetry.NewPrometheusCollector(reg)
	if err != nil {
		return nil, nil, err
	}
	return collector, reg, nil
}

func serialActorProvider(cfg *config.Config, logger *zap.Logger) actor.SerialActorProvider {
	serialCfg := vedirect.SerialConfig{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: time.Duration(cfg.Serial.ReadTimeoutMillis) * time.Millisecond,
	}
	return func() *adactor.SerialActor {
		return adactor.NewSerialActor(adactor.SerialPortOpener(serialCfg), serialCfg.ReadTimeout > 0, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("serial.device", "/dev/ttyUSB0")
	viper.SetDefault("serial.baud", vedirect.DefaultBaud)
	viper.SetDefault("serial.read_timeout_millis", 0)
	viper.SetDefault("vedirect.checksum_mode", "victron")
	viper.SetDefault("vedirect.retry_attempts", 3)
	viper.SetDefault("vedirect.retry_timeout_millis", 500)
	viper.SetDefault("vedirect.tick_interval_millis", 50)
	viper.SetDefault("charge_limit.min_value", 0)
	viper.SetDefault("charge_limit.max_value", 100)
	viper.SetDefault("charge_limit.step", 0.1)
	viper.SetDefault("charge_limit.poll_interval_millis", 5000)
	viper.SetDefault("charge_limit.fault_threshold", 5)
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "vedirect")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("modbus.enable", false)
	viper.SetDefault("modbus.url", "tcp://0.0.0.0:5502")
	viper.SetDefault("modbus.unit_id", 1)
	viper.SetDefault("modbus.register", 0x2015)
	viper.SetDefault("metrics.enable", false)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
