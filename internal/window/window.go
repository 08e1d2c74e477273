// Package window decides when outbound prompts may be sent.
package window

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zulandar/perito/internal/config"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Policy is a daily send window [StartHour, EndHour) in a fixed timezone,
// optionally restricted to some days of the week.
type Policy struct {
	StartHour int
	EndHour   int
	Location  *time.Location

	open cron.Schedule
}

// New builds a Policy from config. Days is a cron day-of-week field
// ("*", "1-5", "mon-sat").
func New(cfg config.SendWindowConfig) (*Policy, error) {
	if cfg.StartHour < 0 || cfg.EndHour > 24 || cfg.StartHour >= cfg.EndHour {
		return nil, fmt.Errorf("window: invalid hours %d-%d", cfg.StartHour, cfg.EndHour)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("window: timezone %q: %w", cfg.Timezone, err)
	}
	days := cfg.Days
	if days == "" {
		days = "*"
	}
	expr := fmt.Sprintf("CRON_TZ=%s 0 %d * * %s", cfg.Timezone, cfg.StartHour, days)
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("window: days %q: %w", days, err)
	}
	return &Policy{StartHour: cfg.StartHour, EndHour: cfg.EndHour, Location: loc, open: sched}, nil
}

// MustNew is New for known-good configurations. It panics on error.
func MustNew(cfg config.SendWindowConfig) *Policy {
	p, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return p
}

// Always is a policy whose window never closes.
func Always() *Policy {
	return MustNew(config.SendWindowConfig{StartHour: 0, EndHour: 24, Timezone: "UTC", Days: "*"})
}

// IsWithinWindow reports whether a prompt may be sent at now.
func (p *Policy) IsWithinWindow(now time.Time) bool {
	local := now.In(p.Location)
	if h := local.Hour(); h < p.StartHour || h >= p.EndHour {
		return false
	}
	return p.dayAllowed(local)
}

// dayAllowed reports whether the window opens on local's calendar day.
func (p *Policy) dayAllowed(local time.Time) bool {
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.Location)
	opens := p.open.Next(midnight.Add(-time.Second)).In(p.Location)
	y1, m1, d1 := opens.Date()
	y2, m2, d2 := local.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// NextWindowStart returns now when the window is open, otherwise the instant
// it next opens.
func (p *Policy) NextWindowStart(now time.Time) time.Time {
	if p.IsWithinWindow(now) {
		return now
	}
	return p.open.Next(now)
}

func (p *Policy) String() string {
	return fmt.Sprintf("%02d:00-%02d:00 %s", p.StartHour, p.EndHour, p.Location)
}
