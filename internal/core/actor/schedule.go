package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/config"
	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	. "github.com/berfenger/vedirect2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// ScheduleActor applies the configured charge limit setpoints on their cron
// triggers.
type ScheduleActor struct {
	config           *config.Config
	behavior         actor.Behavior
	chargeLimitActor *actor.PID
	scheduler        quartz.Scheduler
	cancel           context.CancelFunc
	logger           *zap.Logger
}

type chargeLimitJob struct {
	name    string
	value   float64
	root    *actor.RootContext
	target  *actor.PID
	timeout time.Duration
	logger  *zap.Logger
}

func NewScheduleActor(config *config.Config, chargeLimitActor *actor.PID, logger *zap.Logger) *ScheduleActor {
	act := &ScheduleActor{
		config:           config,
		behavior:         actor.NewBehavior(),
		chargeLimitActor: chargeLimitActor,
		logger:           ActorLogger(domain.ACTOR_ID_SCHEDULE, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ScheduleActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ScheduleActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("schedule@starting started", zap.Int("schedules", len(state.config.Schedules)))

		timeout := state.config.RequestTimeout()
		jobs, err := scheduleJobs(state.config.Schedules, func(s config.ScheduleConfig) quartz.Job {
			return &chargeLimitJob{
				name:    s.Name,
				value:   s.Value,
				root:    ctx.ActorSystem().Root,
				target:  state.chargeLimitActor,
				timeout: timeout,
				logger:  state.logger,
			}
		})
		if err != nil {
			panic(err)
		}

		schedCtx, cancel := context.WithCancel(context.Background())
		state.cancel = cancel
		state.scheduler = quartz.NewStdScheduler()
		state.scheduler.Start(schedCtx)
		for _, j := range jobs {
			if err := state.scheduler.ScheduleJob(j.detail, j.trigger); err != nil {
				panic(err)
			}
			state.logger.Info("schedule@starting: job scheduled", zap.String("job", j.detail.JobKey().String()), zap.String("cron", j.trigger.Description()))
		}
		state.behavior.Become(state.DefaultReceive)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("schedule@starting: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ScheduleActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("schedule@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SCHEDULE,
			Healthy: state.scheduler != nil && state.scheduler.IsStarted(),
			State:   "scheduled",
		})
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	default:
		state.logger.Debug("schedule@default: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ScheduleActor) stop() {
	if state.scheduler != nil {
		state.scheduler.Stop()
		state.scheduler = nil
	}
	if state.cancel != nil {
		state.cancel()
		state.cancel = nil
	}
}

type scheduledJob struct {
	detail  *quartz.JobDetail
	trigger *quartz.CronTrigger
}

func scheduleJobs(schedules []config.ScheduleConfig, newJob func(config.ScheduleConfig) quartz.Job) ([]scheduledJob, error) {
	jobs := make([]scheduledJob, 0, len(schedules))
	for i, s := range schedules {
		trigger, err := quartz.NewCronTrigger(s.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: invalid cron expression %q: %w", s.Name, s.Cron, err)
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("schedule_%d", i)
		}
		jobs = append(jobs, scheduledJob{
			detail:  quartz.NewJobDetail(newJob(s), quartz.NewJobKey(name)),
			trigger: trigger,
		})
	}
	return jobs, nil
}

func (j *chargeLimitJob) Execute(_ context.Context) error {
	j.logger.Info("schedule: applying setpoint", zap.String("job", j.name), zap.Float64("value", j.value))
	res, err := j.root.RequestFuture(j.target, domain.SetChargeLimitRequest{
		Value:  j.value,
		Source: "schedule",
	}, j.timeout).Result()
	if err != nil {
		j.logger.Error("schedule: setpoint not answered", zap.String("job", j.name), zap.Error(err))
		return err
	}
	resp, ok := res.(domain.SetChargeLimitResponse)
	if !ok {
		return fmt.Errorf("unexpected response %T", res)
	}
	if resp.HasResponseError() {
		j.logger.Error("schedule: setpoint failed", zap.String("job", j.name), zap.Error(resp.GetResponseError()))
		return resp.GetResponseError()
	}
	j.logger.Info("schedule: setpoint applied", zap.String("job", j.name), zap.Float64("value", resp.Value))
	return nil
}

func (j *chargeLimitJob) Description() string {
	return fmt.Sprintf("ChargeLimitJob::%s::%.1f", j.name, j.value)
}

// ensure interface compliance
var _ quartz.Job = (*chargeLimitJob)(nil)
