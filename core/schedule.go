package core

import (
	"sync"
	"time"

	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/go-co-op/gocron"
)

type Job struct {
	Name            string           // name of the job.
	Cron            string           // cron expr.
	CronWithSeconds bool             // whether cron expr contains the second field.
	Run             func(Rail) error // actual job execution logic.
	LogJobExec      bool             // whether job execution should be logged, error msg is always logged.
}

var (
	_scheduler     *gocron.Scheduler = nil
	_schedulerOnce sync.Once
)

// Get the lazy-initialized, cached scheduler
func getScheduler() *gocron.Scheduler {
	_schedulerOnce.Do(func() {
		_scheduler = gocron.NewScheduler(time.Local)
	})
	return _scheduler
}

// Add a cron job to the scheduler, the scheduler only runs the job after StartSchedulerAsync.
func ScheduleCron(job Job) error {
	s := getScheduler()

	wrappedJob := func() {
		rail := EmptyRail()
		if job.LogJobExec {
			rail.Infof("Running job '%s'", job.Name)
		}

		start := time.Now()
		errRun := job.Run(rail)
		took := time.Since(start)
		if errRun != nil {
			rail.Errorf("Job '%s' failed, took: %s, %v", job.Name, took, errRun)
			return
		}
		if job.LogJobExec {
			rail.Infof("Job '%s' finished, took: %s", job.Name, took)
		}
	}

	var err error
	if job.CronWithSeconds {
		_, err = s.CronWithSeconds(job.Cron).Tag(job.Name).Do(wrappedJob)
	} else {
		_, err = s.Cron(job.Cron).Tag(job.Name).Do(wrappedJob)
	}
	if err != nil {
		return errs.WrapErrf(err, "failed to schedule cron job, cron: %v, withSeconds: %v", job.Cron, job.CronWithSeconds)
	}
	return nil
}

// Start the scheduler asynchronously, it's a no-op if no job is scheduled.
func StartSchedulerAsync() {
	s := getScheduler()
	if s.Len() < 1 || s.IsRunning() {
		return
	}
	s.StartAsync()
}

// Stop the scheduler.
func StopScheduler() {
	s := getScheduler()
	if s.IsRunning() {
		s.Stop()
	}
}
