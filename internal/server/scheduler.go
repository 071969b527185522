package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/crewline/internal/store"
	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

// Scheduler re-runs stored workflows when their cron expression is
// due. A redis SetNX lock keeps multiple replicas from firing the
// same schedule twice.
type Scheduler struct {
	Store    *store.Store
	Rdb      *redis.Client
	Engine   *workflow.Engine
	Planner  Planner
	Registry *workflow.Registry
	Logger   *log.Logger
	LockTTL  time.Duration
	Stop     chan struct{}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	schedules, err := s.Store.ListEnabledSchedules(ctx)
	if err != nil {
		s.Logger.Printf("list schedules: %v", err)
		return
	}
	for _, sc := range schedules {
		var last *time.Time
		if sc.LastRunAt.Valid {
			t := sc.LastRunAt.Time
			last = &t
		}
		if !isDue(sc.CronExpr, last) {
			continue
		}

		if s.Rdb != nil {
			lockKey := "crewline:sched:lock:" + sc.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", s.LockTTL).Result()
			if !ok {
				continue
			}
		}

		go s.fire(sc)
	}
}

func (s *Scheduler) fire(sc store.Schedule) {
	ctx := context.Background()
	started := time.Now()
	s.Logger.Printf("firing schedule %s (%s)", sc.ID, sc.Name)

	plan, err := s.Planner.Plan(ctx, sc.UserInput, "", s.Registry.Workers())
	if err != nil {
		s.Logger.Printf("schedule %s planning failed: %v", sc.ID, err)
		return
	}
	result := s.Engine.Execute(ctx, workflow.Request{
		SessionID: "schedule-" + sc.ID,
		UserInput: sc.UserInput,
		RawPlan:   plan.RawText,
		Steps:     plan.Steps,
	})

	if _, err := s.Store.SaveRun(ctx, store.Run{
		UserID:        sc.UserID,
		SessionID:     "schedule-" + sc.ID,
		WorkflowID:    result.WorkflowID,
		UserInput:     sc.UserInput,
		Answer:        result.Answer,
		Termination:   result.Termination,
		StepsExecuted: result.StepsExecuted,
	}, result.Results); err != nil {
		s.Logger.Printf("schedule %s persist failed: %v", sc.ID, err)
	}
	if err := s.Store.MarkScheduleRun(ctx, sc.ID, started); err != nil {
		s.Logger.Printf("schedule %s mark run failed: %v", sc.ID, err)
	}
}

// isDue reports whether a schedule with cronSpec should run now given
// its last run time. Supports "@daily", "@hourly", and standard cron
// expressions; an unparseable spec falls back to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
