package cron

import (
	"time"

	"github.com/google/uuid"
)

// Maintenance actions the gateway knows how to run.
const (
	ActionReconcile = "reconcile-dependencies"
	ActionRecurring = "activate-recurring"
	ActionReminders = "dispatch-reminders"
	ActionPurge     = "purge-deleted"
)

const (
	KindCron  = "cron"
	KindEvery = "every"
)

const (
	statusOK         = "ok"
	statusError      = "error"
	maxResultLogSize = 100
)

// Schedule is either a six-field cron expression (seconds first) or a
// fixed interval.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
}

// Payload names the action a job performs.
type Payload struct {
	Action string `json:"action"`
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
	Runs        int64  `json:"runs,omitempty"`
}

type CronJob struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Enabled     bool     `json:"enabled"`
	Schedule    Schedule `json:"schedule"`
	Payload     Payload  `json:"payload"`
	State       JobState `json:"state"`
	CreatedAtMs int64    `json:"createdAtMs"`
}

func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:          uuid.NewString(),
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}

// Every is a shorthand for an interval schedule.
func Every(d time.Duration) Schedule {
	return Schedule{Kind: KindEvery, EveryMs: d.Milliseconds()}
}

// Cron is a shorthand for a cron-expression schedule.
func Cron(expr string) Schedule {
	return Schedule{Kind: KindCron, Expr: expr}
}
