package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Serial: SerialConfig{Device: "/dev/ttyUSB0", Baud: 9600},
		VEDirect: VEDirectConfig{
			ChecksumMode:       "victron",
			RetryAttempts:      3,
			RetryTimeoutMillis: 500,
			TickIntervalMillis: 100,
		},
		ChargeLimit: ChargeLimitConfig{
			MinValue:           0,
			MaxValue:           100,
			Step:               0.1,
			PollIntervalMillis: 5000,
			FaultThreshold:     5,
		},
	}
}

func TestCheckMQTTTopic(t *testing.T) {

	assert := assert.New(t)

	topic, err := CheckMQTTTopic("VEDirect_1")
	assert.NoError(err)
	assert.Equal("vedirect_1", topic)

	_, err = CheckMQTTTopic("ve/direct")
	assert.Error(err)
}

func TestConfigCheck(t *testing.T) {

	assert := assert.New(t)

	cfg := validConfig()
	assert.NoError(cfg.Check())

	cfg = validConfig()
	cfg.ChargeLimit.MinValue = 100
	assert.Error(cfg.Check(), "min must be below max")

	cfg = validConfig()
	cfg.ChargeLimit.MaxValue = 7000
	assert.Error(cfg.Check(), "max beyond the register range")

	cfg = validConfig()
	cfg.VEDirect.TickIntervalMillis = 1000
	assert.Error(cfg.Check(), "tick slower than the retry timeout")

	cfg = validConfig()
	cfg.Serial.Device = ""
	assert.Error(cfg.Check())

	cfg = validConfig()
	cfg.Schedules = []ScheduleConfig{{Name: "night", Cron: "0 0 22 * * *", Value: 150}}
	assert.Error(cfg.Check(), "schedule value out of bounds")
}

func TestRequestTimeout(t *testing.T) {

	cfg := validConfig()
	// a setpoint queued behind a retrying poll: 2 x (3 x 500ms) + 100ms tick + 1s
	assert.Equal(t, 4100*time.Millisecond, cfg.RequestTimeout())

	cfg.VEDirect.RetryAttempts = 1
	cfg.VEDirect.TickIntervalMillis = 50
	assert.Equal(t, 2050*time.Millisecond, cfg.RequestTimeout())
}
