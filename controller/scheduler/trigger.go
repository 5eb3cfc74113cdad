package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/teambition/rrule-go"
)

// Trigger decides whether a job is due. A zero last means the job never fired.
type Trigger interface {
	Due(now, last time.Time) bool
	String() string
}

// Every fires when strictly more than the period has elapsed since the last firing.
type Every time.Duration

func (e Every) Due(now, last time.Time) bool {
	return last.IsZero() || now.Sub(last) > time.Duration(e)
}

func (e Every) String() string { return "every " + time.Duration(e).String() }

type cronTrigger struct {
	expr  string
	sched cron.Schedule
}

func (t cronTrigger) Due(now, last time.Time) bool {
	return last.IsZero() || !now.Before(t.sched.Next(last))
}

func (t cronTrigger) String() string { return "cron " + t.expr }

type rruleTrigger struct {
	expr string
	rule *rrule.RRule
}

func (t rruleTrigger) Due(now, last time.Time) bool {
	if last.IsZero() {
		return true
	}
	next := t.rule.After(last, false)
	if next.IsZero() {
		// No more occurrences
		return false
	}
	return !now.Before(next)
}

func (t rruleTrigger) String() string { return "rrule " + t.expr }

// ParseTrigger accepts a Go duration ("15s"), an RRULE in any case
// ("FREQ=MINUTELY;INTERVAL=5", optionally prefixed "RRULE:") or a cron spec, including descriptors such as "@every 30s".
func ParseTrigger(expr string) (Trigger, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("empty schedule")
	}
	if d, err := time.ParseDuration(expr); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("schedule period must be positive, got %s", d)
		}
		return Every(d), nil
	}
	upper := strings.ToUpper(expr)
	if strings.HasPrefix(upper, "FREQ=") || strings.HasPrefix(upper, "RRULE:") {
		rule, err := parseRRule(strings.TrimPrefix(upper, "RRULE:"))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid rrule %q", expr)
		}
		return rruleTrigger{expr: expr, rule: rule}, nil
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid cron spec %q", expr)
	}
	return cronTrigger{expr: expr, sched: sched}, nil
}

// parseRRule anchors the rule at the current time in UTC.
func parseRRule(ruleStr string) (*rrule.RRule, error) {
	start := time.Now().UTC().Format("20060102T150405Z")
	return rrule.StrToRRule("DTSTART=" + start + ";" + ruleStr)
}
