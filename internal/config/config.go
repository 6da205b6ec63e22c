package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel    zapcore.Level
	Serial      SerialConfig      `mapstructure:"serial"`
	VEDirect    VEDirectConfig    `mapstructure:"vedirect"`
	ChargeLimit ChargeLimitConfig `mapstructure:"charge_limit"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Modbus      ModbusConfig      `mapstructure:"modbus"`
	Schedules   []ScheduleConfig  `mapstructure:"schedules"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Port        uint              `mapstructure:"port"`
	HttpLog     bool              `mapstructure:"http_log"`
}

type SerialConfig struct {
	Device            string
	Baud              int
	ReadTimeoutMillis uint32 `mapstructure:"read_timeout_millis"`
}

type VEDirectConfig struct {
	ChecksumMode       string `mapstructure:"checksum_mode"`
	RetryAttempts      int    `mapstructure:"retry_attempts"`
	RetryTimeoutMillis uint32 `mapstructure:"retry_timeout_millis"`
	TickIntervalMillis uint32 `mapstructure:"tick_interval_millis"`
}

type ChargeLimitConfig struct {
	MinValue           float64 `mapstructure:"min_value"`
	MaxValue           float64 `mapstructure:"max_value"`
	Step               float64 `mapstructure:"step"`
	PollIntervalMillis uint32  `mapstructure:"poll_interval_millis"`
	FaultThreshold     int     `mapstructure:"fault_threshold"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type ModbusConfig struct {
	Enable   bool
	URL      string `mapstructure:"url"`
	UnitId   uint8  `mapstructure:"unit_id"`
	Register uint16 `mapstructure:"register"`
}

type ScheduleConfig struct {
	Name  string
	Cron  string
	Value float64
}

type MetricsConfig struct {
	Enable bool
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// RequestTimeout bounds a blocking charge limit request. A setpoint may
// queue behind a poll that is still retrying, so it gets two retry budgets
// plus a tick of scheduling delay and a second of slack.
func (cfg *Config) RequestTimeout() time.Duration {
	budget := time.Duration(cfg.VEDirect.RetryAttempts) * time.Duration(cfg.VEDirect.RetryTimeoutMillis) * time.Millisecond
	tick := time.Duration(cfg.VEDirect.TickIntervalMillis) * time.Millisecond
	return 2*budget + tick + time.Second
}

// Check validates cross-field bounds that viper cannot express.
func (cfg *Config) Check() error {
	if cfg.Serial.Device == "" {
		return errors.New("config param serial.device is required")
	}
	if cfg.ChargeLimit.Step <= 0 {
		return errors.New("config param charge_limit.step should be > 0")
	}
	if cfg.ChargeLimit.MinValue < 0 || cfg.ChargeLimit.MinValue >= cfg.ChargeLimit.MaxValue {
		return errors.New("config params charge_limit.min_value and max_value must satisfy 0 <= min_value < max_value")
	}
	if cfg.ChargeLimit.MaxValue > 6553.5 {
		return errors.New("config param charge_limit.max_value must be <= 6553.5")
	}
	if cfg.ChargeLimit.PollIntervalMillis < 1000 {
		return errors.New("config param charge_limit.poll_interval_millis should be >= 1000")
	}
	if cfg.ChargeLimit.FaultThreshold <= 0 {
		return errors.New("config param charge_limit.fault_threshold should be > 0")
	}
	if cfg.VEDirect.RetryAttempts <= 0 {
		return errors.New("config param vedirect.retry_attempts should be > 0")
	}
	if cfg.VEDirect.RetryTimeoutMillis < 50 {
		return errors.New("config param vedirect.retry_timeout_millis should be >= 50")
	}
	if cfg.VEDirect.TickIntervalMillis == 0 || cfg.VEDirect.TickIntervalMillis > cfg.VEDirect.RetryTimeoutMillis {
		return errors.New("config param vedirect.tick_interval_millis must be > 0 and <= vedirect.retry_timeout_millis")
	}
	for _, s := range cfg.Schedules {
		if s.Cron == "" {
			return errors.New("config param schedules[].cron is required")
		}
		if s.Value < cfg.ChargeLimit.MinValue || s.Value > cfg.ChargeLimit.MaxValue {
			return errors.New("config param schedules[].value must be within charge_limit bounds")
		}
	}
	return nil
}
