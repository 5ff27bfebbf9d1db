// Package reminder turns task due times into timed notification jobs and
// keeps those jobs consistent with the task lifecycle.
package reminder

import (
	"sort"
	"time"

	"remindbot/internal/todo"
)

type Kind int

const (
	KindUrgent30 Kind = iota + 1
	KindUrgent15
	KindUrgent5
	KindHigh15
	KindStandard15
	KindRecurring
)

var kindNames = map[Kind]string{
	KindUrgent30:   "urgent_30",
	KindUrgent15:   "urgent_15",
	KindUrgent5:    "urgent_5",
	KindHigh15:     "high_15",
	KindStandard15: "standard_15",
	KindRecurring:  "recurring",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

func (k Kind) Recurring() bool { return k == KindRecurring }

// JobKey identifies a job. Rescheduling the same key replaces the job.
type JobKey struct {
	TaskID string
	Kind   Kind
}

func (k JobKey) String() string { return "reminder:" + k.TaskID + ":" + k.Kind.String() }

// Job is one desired reminder. Every is zero for one-shot jobs.
type Job struct {
	Key    JobKey
	FireAt time.Time
	Every  time.Duration
}

const (
	// RecurringDelay is how long after the due time nagging starts.
	RecurringDelay = 5 * time.Minute
	// RecurringInterval is the nag cadence.
	RecurringInterval = 5 * time.Minute
)

type offset struct {
	kind   Kind
	before time.Duration
}

var (
	urgentOffsets   = []offset{{KindUrgent30, 30 * time.Minute}, {KindUrgent15, 15 * time.Minute}, {KindUrgent5, 5 * time.Minute}}
	highOffsets     = []offset{{KindHigh15, 15 * time.Minute}}
	standardOffsets = []offset{{KindStandard15, 15 * time.Minute}}
)

// Plan computes the reminder jobs for a task due at due, evaluated at now.
// Jobs whose fire time is not strictly after now are omitted. The result
// is ordered by fire time. A zero due yields no jobs.
func Plan(taskID string, p todo.Priority, due, now time.Time) []Job {
	if due.IsZero() {
		return nil
	}

	offsets := standardOffsets
	nag := false
	switch p {
	case todo.PriorityUrgent:
		offsets, nag = urgentOffsets, true
	case todo.PriorityHigh:
		offsets, nag = highOffsets, true
	}

	jobs := make([]Job, 0, len(offsets)+1)
	for _, o := range offsets {
		at := due.Add(-o.before)
		if at.After(now) {
			jobs = append(jobs, Job{Key: JobKey{TaskID: taskID, Kind: o.kind}, FireAt: at})
		}
	}
	if nag {
		start := due.Add(RecurringDelay)
		if start.After(now) {
			jobs = append(jobs, Job{Key: JobKey{TaskID: taskID, Kind: KindRecurring}, FireAt: start, Every: RecurringInterval})
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].FireAt.Before(jobs[j].FireAt) })
	return jobs
}

// PlanTask is Plan for a stored task. Terminal tasks get no jobs.
func PlanTask(t todo.Task, now time.Time) []Job {
	if t.Status.Terminal() {
		return nil
	}
	return Plan(t.ID, t.Priority, t.Due, now)
}
