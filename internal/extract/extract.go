// Package extract turns free-form chat text into task drafts and produces
// daily schedule suggestions.
package extract

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/todo"
	logx "remindbot/pkg/logx"
)

// Extractor finds a task in text. ok is false when the text holds no task.
type Extractor interface {
	Extract(ctx context.Context, text string, now time.Time) (d todo.Draft, ok bool, err error)
}

// Suggester writes a plan for the given tasks.
type Suggester interface {
	Suggest(ctx context.Context, tasks []todo.Task, now time.Time) (string, error)
}

// Chain asks each extractor in turn until one answers without error. A
// clean "no task" answer ends the chain.
type Chain struct {
	extractors []Extractor
	log        logx.Logger
}

func NewChain(log logx.Logger, ex ...Extractor) *Chain {
	out := make([]Extractor, 0, len(ex))
	for _, e := range ex {
		if e != nil {
			out = append(out, e)
		}
	}
	return &Chain{extractors: out, log: log.Named("extract")}
}

func (c *Chain) Extract(ctx context.Context, text string, now time.Time) (todo.Draft, bool, error) {
	var errs []error
	for _, e := range c.extractors {
		d, ok, err := e.Extract(ctx, text, now)
		if err != nil {
			c.log.Warn("extractor failed, trying next", logx.Err(err))
			errs = append(errs, err)
			continue
		}
		return d, ok, nil
	}
	return todo.Draft{}, false, errors.Join(errs...)
}

// Fallback uses Primary and falls back to Secondary on error.
type Fallback struct {
	Primary   Suggester
	Secondary Suggester
	Log       logx.Logger
}

func (f Fallback) Suggest(ctx context.Context, tasks []todo.Task, now time.Time) (string, error) {
	if f.Primary != nil {
		s, err := f.Primary.Suggest(ctx, tasks, now)
		if err == nil && s != "" {
			return s, nil
		}
		if err != nil {
			f.Log.Warn("schedule suggestion failed, using planner", logx.Err(err))
		}
	}
	if f.Secondary == nil {
		return "", errors.New("no suggester configured")
	}
	return f.Secondary.Suggest(ctx, tasks, now)
}
