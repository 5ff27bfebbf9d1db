package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"remindbot/internal/todo"
)

// Planner lays tasks into one-hour slots between 09:00 and 18:00 with a
// lunch break at 12:00. Tasks with a due time keep it; the rest fill free
// slots by priority.
type Planner struct {
	Location *time.Location
}

const (
	dayStartHour = 9
	dayEndHour   = 18
	lunchHour    = 12
)

func (p Planner) Suggest(_ context.Context, tasks []todo.Task, now time.Time) (string, error) {
	if len(tasks) == 0 {
		return "", nil
	}
	loc := p.Location
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	fixed := make([]todo.Task, 0, len(tasks))
	flex := make([]todo.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.HasDue() {
			fixed = append(fixed, t)
		} else {
			flex = append(flex, t)
		}
	}
	sort.SliceStable(fixed, func(i, j int) bool { return fixed[i].Due.Before(fixed[j].Due) })
	sort.SliceStable(flex, func(i, j int) bool { return flex[i].Priority.Rank() > flex[j].Priority.Rank() })

	busy := map[int]bool{lunchHour: true}
	for _, t := range fixed {
		busy[t.Due.In(loc).Hour()] = true
	}

	type slot struct {
		hour  int
		label string
	}
	var plan []slot
	for _, t := range fixed {
		d := t.Due.In(loc)
		plan = append(plan, slot{d.Hour(), fmt.Sprintf("%s  %s (due)", d.Format("15:04"), t.Title)})
	}

	start := dayStartHour
	if now.Hour()+1 > start {
		start = now.Hour() + 1
	}
	var later []string
	h := start
	for _, t := range flex {
		for h < dayEndHour && busy[h] {
			h++
		}
		if h >= dayEndHour {
			later = append(later, t.Title)
			continue
		}
		busy[h] = true
		plan = append(plan, slot{h, fmt.Sprintf("%02d:00-%02d:00  %s", h, h+1, t.Title)})
		h++
	}
	if start <= lunchHour && lunchHour < dayEndHour {
		plan = append(plan, slot{lunchHour, "12:00-13:00  Lunch break"})
	}
	sort.SliceStable(plan, func(i, j int) bool { return plan[i].hour < plan[j].hour })

	var b strings.Builder
	b.WriteString("Suggested plan for today:\n")
	for _, s := range plan {
		b.WriteString(s.label + "\n")
	}
	if len(later) > 0 {
		b.WriteString("\nNo free slot left for: " + strings.Join(later, ", ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
