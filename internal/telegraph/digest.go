package telegraph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/perito/internal/dialogue"
	"github.com/zulandar/perito/internal/models"
	"github.com/zulandar/perito/internal/store"
)

// DailyReport summarises intake activity over one period.
type DailyReport struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Opened      int
	Completed   int
	Escalated   int
	Active      int
	Outcomes    map[string]int

	HandoffsRaised int
	HandoffsOpen   int
}

// Quiet reports whether nothing happened in the period and nothing is
// waiting on staff.
func (r *DailyReport) Quiet() bool {
	return r.Opened == 0 && r.Completed == 0 && r.Escalated == 0 &&
		r.HandoffsRaised == 0 && r.HandoffsOpen == 0
}

func within(t *time.Time, since, until time.Time) bool {
	return t != nil && !t.Before(since) && t.Before(until)
}

// BuildDailyReport reads conversations from st and handoffs from db for
// the period [since, until).
func BuildDailyReport(ctx context.Context, st store.Store, db *gorm.DB, since, until time.Time) (*DailyReport, error) {
	convs, err := st.List(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("telegraph: daily report: %w", err)
	}

	r := &DailyReport{PeriodStart: since, PeriodEnd: until, Outcomes: map[string]int{}}
	for i := range convs {
		c := &convs[i]
		created := c.CreatedAt
		if within(&created, since, until) {
			r.Opened++
		}
		if within(c.CompletedAt, since, until) {
			r.Completed++
			r.Outcomes[c.Field(dialogue.FieldOutcome)]++
		}
		if within(c.EscalatedAt, since, until) {
			r.Escalated++
			r.Outcomes[dialogue.OutcomeEscalated]++
		}
		if !dialogue.Stage(c.Stage).Terminal() {
			r.Active++
		}
	}

	var raised, open int64
	if err := db.WithContext(ctx).Model(&models.Handoff{}).
		Where("created_at >= ? AND created_at < ?", since, until).
		Count(&raised).Error; err != nil {
		return nil, fmt.Errorf("telegraph: daily report: %w", err)
	}
	if err := db.WithContext(ctx).Model(&models.Handoff{}).
		Where("acknowledged = ?", false).
		Count(&open).Error; err != nil {
		return nil, fmt.Errorf("telegraph: daily report: %w", err)
	}
	r.HandoffsRaised = int(raised)
	r.HandoffsOpen = int(open)
	return r, nil
}

// FormatDaily renders a report as a staff alert.
func FormatDaily(r *DailyReport) Alert {
	var lines []string
	lines = append(lines, fmt.Sprintf("**Period**: %s – %s",
		r.PeriodStart.Format("Jan 2 15:04"),
		r.PeriodEnd.Format("Jan 2 15:04")))
	lines = append(lines, fmt.Sprintf("**Conversations**: %d opened, %d completed, %d escalated, %d in progress",
		r.Opened, r.Completed, r.Escalated, r.Active))

	if len(r.Outcomes) > 0 {
		keys := make([]string, 0, len(r.Outcomes))
		for k := range r.Outcomes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines = append(lines, "", "**Outcomes**:")
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("  %s: %d", k, r.Outcomes[k]))
		}
	}

	color := ColorInfo
	if r.HandoffsOpen > 0 {
		color = ColorWarning
		lines = append(lines, "", fmt.Sprintf("**Waiting on staff**: %d handoffs", r.HandoffsOpen))
	}

	return Alert{
		Title:    "Daily intake digest",
		Body:     strings.Join(lines, "\n"),
		Severity: "info",
		Color:    color,
		Fields: []Field{
			{Name: "Opened", Value: fmt.Sprintf("%d", r.Opened), Short: true},
			{Name: "Completed", Value: fmt.Sprintf("%d", r.Completed), Short: true},
			{Name: "Escalated", Value: fmt.Sprintf("%d", r.Escalated), Short: true},
			{Name: "Open handoffs", Value: fmt.Sprintf("%d", r.HandoffsOpen), Short: true},
		},
	}
}

// DigestOpts configures RunDigest.
type DigestOpts struct {
	Schedule  string // cron expression, e.g. "CRON_TZ=Europe/Madrid 0 8 * * *"
	Store     store.Store
	DB        *gorm.DB
	Notifiers []Notifier
	Logger    *zap.Logger
	Now       func() time.Time
}

// RunDigest posts the daily digest on every fire of the schedule until ctx
// is cancelled. Quiet days are skipped.
func RunDigest(ctx context.Context, opts DigestOpts) error {
	if _, err := ParseSchedule(opts.Schedule); err != nil {
		return err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	for {
		wait := nextCronDuration(opts.Schedule, opts.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}

		now := opts.Now()
		if err := PostDigest(ctx, opts, now.Add(-24*time.Hour), now); err != nil {
			opts.Logger.Warn("telegraph: digest failed", zap.Error(err))
		}
	}
}

// PostDigest builds the report for [since, until) and broadcasts it unless
// the period was quiet.
func PostDigest(ctx context.Context, opts DigestOpts, since, until time.Time) error {
	r, err := BuildDailyReport(ctx, opts.Store, opts.DB, since, until)
	if err != nil {
		return err
	}
	if r.Quiet() {
		return nil
	}
	return Broadcast(ctx, opts.Notifiers, FormatDaily(r))
}
