package util

import (
	"github.com/berfenger/vedirect2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Device:            "/dev/null",
			Baud:              9600,
			ReadTimeoutMillis: 100,
		},
		VEDirect: config.VEDirectConfig{
			ChecksumMode:       "victron",
			RetryAttempts:      3,
			RetryTimeoutMillis: 500,
			TickIntervalMillis: 50,
		},
		ChargeLimit: config.ChargeLimitConfig{
			MinValue:           0,
			MaxValue:           100,
			Step:               0.1,
			PollIntervalMillis: 5000,
			FaultThreshold:     5,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "vedirect",
			HADiscoveryTopic: "homeassistant",
		},
		Modbus: config.ModbusConfig{
			URL:      "tcp://localhost:5502",
			UnitId:   1,
			Register: 0x2015,
		},
		Port: 8080,
	}
}
