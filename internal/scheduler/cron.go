package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/asyncflow/internal/async"
	"github.com/rendis/asyncflow/pkg/schema"
)

// JobFactory builds a fresh execution for a cron fire time. The runner starts
// the returned execution.
type JobFactory func(fire time.Time) (async.Handle, error)

// JobStatus is a snapshot of a cron job.
type JobStatus struct {
	ID            string
	Expression    string
	Runs          int
	Skipped       int
	LastRunAt     time.Time
	NextRunAt     time.Time
	LastRunStatus string
}

type cronJob struct {
	id       string
	expr     string
	schedule cron.Schedule
	factory  JobFactory

	current   async.Handle
	launching bool
	disarm    func() bool
	runs      int
	skipped   int
	lastRun   time.Time
	nextRun   time.Time
	lastStat  string
}

// CronRunner starts a new execution every time a job's cron expression
// matches. A job whose previous execution is still running is skipped for
// that fire time.
type CronRunner struct {
	sched  *Scheduler
	logger *slog.Logger

	mu      sync.Mutex
	jobs    map[string]*cronJob
	started bool
}

// NewCronRunner creates a runner backed by s.
func NewCronRunner(s *Scheduler, logger *slog.Logger) *CronRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &CronRunner{
		sched:  s,
		logger: logger,
		jobs:   make(map[string]*cronJob),
	}
}

// Add registers a job. Jobs added to a started runner are armed at once.
func (r *CronRunner) Add(id, expr string, factory JobFactory) error {
	schedule, err := r.sched.Parse(expr)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[id]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "cron job %q already registered", id)
	}
	job := &cronJob{id: id, expr: expr, schedule: schedule, factory: factory}
	r.jobs[id] = job
	if r.started {
		r.arm(job, time.Now())
	}
	return nil
}

// Remove unregisters a job. A running execution of the job is left alone.
func (r *CronRunner) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false
	}
	if job.disarm != nil {
		job.disarm()
	}
	delete(r.jobs, id)
	return true
}

// Start arms every registered job.
func (r *CronRunner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return schema.NewError(schema.ErrCodePrecondition, "cron runner already started")
	}
	r.started = true
	now := time.Now()
	for _, job := range r.jobs {
		r.arm(job, now)
	}
	r.logger.Info("cron runner started", slog.Int("jobs", len(r.jobs)))
	return nil
}

// Stop disarms every job. Executions already running are not cancelled.
func (r *CronRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	r.started = false
	for _, job := range r.jobs {
		if job.disarm != nil {
			job.disarm()
			job.disarm = nil
		}
	}
	r.logger.Info("cron runner stopped")
}

// Status returns a snapshot of job id.
func (r *CronRunner) Status(id string) (JobStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return JobStatus{}, false
	}
	return JobStatus{
		ID:            job.id,
		Expression:    job.expr,
		Runs:          job.runs,
		Skipped:       job.skipped,
		LastRunAt:     job.lastRun,
		NextRunAt:     job.nextRun,
		LastRunStatus: job.lastStat,
	}, true
}

// arm schedules the next fire of job. Must hold r.mu.
func (r *CronRunner) arm(job *cronJob, from time.Time) {
	next := job.schedule.Next(from)
	job.nextRun = next
	job.disarm = r.sched.At(next, func() { r.fire(job.id, next) })
}

// fire starts the job's execution for fire time t and re-arms the job.
func (r *CronRunner) fire(id string, t time.Time) {
	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok || !r.started {
		r.mu.Unlock()
		return
	}
	r.arm(job, t)
	if job.launching || (job.current != nil && !job.current.State().IsTerminal()) {
		job.skipped++
		r.mu.Unlock()
		r.logger.Debug("cron job still running, skipping fire", slog.String("job_id", id))
		return
	}
	job.launching = true
	factory := job.factory
	r.mu.Unlock()

	status := "started"
	h, err := factory(t)
	if err == nil {
		err = h.Start()
	}
	if err != nil {
		status = "error"
		r.logger.Error("failed to start cron job",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	job.launching = false
	job.runs++
	job.lastRun = t
	job.lastStat = status
	if err == nil {
		job.current = h
	}
}
