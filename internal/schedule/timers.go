package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TimerHandle identifies one registered trigger.
type TimerHandle int

// TimerPort abstracts timer registration so the manager does not depend on a
// concrete timer wheel. The production implementation sits on robfig/cron;
// tests substitute a fake that fires slots on demand.
type TimerPort interface {
	// Register arms a trigger for the slot. The handler runs on its own
	// goroutine at every fire.
	Register(s Slot, fn func()) (TimerHandle, error)
	Cancel(h TimerHandle)
	// Times reports the next and previous fire times for a handle; zero times
	// when unknown.
	Times(h TimerHandle) (next, prev time.Time)
	Start()
	Stop()
}

// cronTimers implements TimerPort on a seconds-enabled cron runner pinned to
// UTC. Daily slots become 6-field specs ("S M H * * *"); recurring dev slots
// become constant-interval schedules with an explicit first fire.
type cronTimers struct {
	c   *cron.Cron
	now func() time.Time
}

func newCronTimers() *cronTimers {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &cronTimers{
		c:   cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		now: time.Now,
	}
}

func (t *cronTimers) Register(s Slot, fn func()) (TimerHandle, error) {
	if s.Recurring {
		sched := &firstFireSchedule{
			base:  cron.Every(s.Interval),
			first: nextOccurrence(t.now().UTC(), s),
		}
		id := t.c.Schedule(sched, cron.FuncJob(fn))
		return TimerHandle(id), nil
	}
	spec := fmt.Sprintf("%d %d %d * * *", s.Second, s.Minute, s.Hour)
	id, err := t.c.AddFunc(spec, fn)
	if err != nil {
		return 0, err
	}
	return TimerHandle(id), nil
}

func (t *cronTimers) Cancel(h TimerHandle) {
	t.c.Remove(cron.EntryID(h))
}

func (t *cronTimers) Times(h TimerHandle) (time.Time, time.Time) {
	e := t.c.Entry(cron.EntryID(h))
	return e.Next, e.Prev
}

func (t *cronTimers) Start() { t.c.Start() }

// Stop halts triggering. Registered entries survive, so a later Start resumes
// the same schedule; in-flight jobs are not interrupted.
func (t *cronTimers) Stop() { t.c.Stop() }

// firstFireSchedule overrides the first run time of a base schedule, then
// delegates to it.
type firstFireSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *firstFireSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// nextOccurrence returns the next wall-clock occurrence of the slot's
// time-of-day at or after now (UTC).
func nextOccurrence(now time.Time, s Slot) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), s.Hour, s.Minute, s.Second, 0, time.UTC)
	if at.Before(now) {
		at = at.Add(24 * time.Hour)
	}
	return at
}
