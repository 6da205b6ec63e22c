package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/internal/util"
	"github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduleJobsRejectsInvalidCron(t *testing.T) {
	_, err := scheduleJobs([]config.ScheduleConfig{{Name: "bad", Cron: "every day", Value: 10}}, func(config.ScheduleConfig) quartz.Job {
		return &chargeLimitJob{}
	})
	assert.Error(t, err)
}

func TestScheduleJobsNamesJobs(t *testing.T) {
	jobs, err := scheduleJobs([]config.ScheduleConfig{
		{Name: "night", Cron: "0 0 22 * * *", Value: 10},
		{Cron: "0 0 6 * * *", Value: 50},
	}, func(s config.ScheduleConfig) quartz.Job {
		return &chargeLimitJob{name: s.Name, value: s.Value}
	})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "night", jobs[0].detail.JobKey().Name())
	assert.Equal(t, "schedule_1", jobs[1].detail.JobKey().Name())
}

func TestScheduleActorAppliesSetpoint(t *testing.T) {
	cfg := util.LoadTestConfig()
	cfg.Schedules = []config.ScheduleConfig{
		{Name: "every_second", Cron: "* * * * * *", Value: 42},
	}
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	var mu sync.Mutex
	var received []domain.SetChargeLimitRequest
	target := as.Root.Spawn(actor.PropsFromFunc(func(ctx actor.Context) {
		if msg, ok := ctx.Message().(domain.SetChargeLimitRequest); ok {
			mu.Lock()
			received = append(received, msg)
			mu.Unlock()
			ctx.Respond(domain.SetChargeLimitResponse{Requested: msg.Value, Value: msg.Value})
		}
	}))

	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewScheduleActor(&cfg, target, logger)
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 3*time.Second, 50*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 42.0, received[0].Value)
	assert.Equal(t, "schedule", received[0].Source)
	mu.Unlock()

	res, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(t, err)
	assert.True(t, res.(domain.ActorHealthResponse).Healthy)

	as.Root.Stop(pid)
}
