package royalty

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// BillingPeriod is one half-open billing window [Start, End).
type BillingPeriod struct {
	Label   string    `json:"label"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	DueDate time.Time `json:"due_date"`
	// Partial marks a stub that covers only the tail of a regular period.
	Partial bool `json:"partial,omitempty"`

	share decimal.Decimal
}

// Share is the fraction of a regular period the window covers: 1 for regular
// periods, days covered over days in the regular period for stubs.
func (p BillingPeriod) Share() decimal.Decimal {
	if !p.Partial || p.share.IsZero() {
		return decimal.NewFromInt(1)
	}
	return p.share
}

// PeriodCalculator derives billing periods from a config. It is pure: the same config
// and reference time always yield the same periods.
type PeriodCalculator struct {
	loc        *time.Location
	maxPeriods int
}

// NewPeriodCalculator builds a calculator that evaluates boundaries in loc and never
// returns more than maxPeriods periods per call (<= 0 disables the cap).
func NewPeriodCalculator(loc *time.Location, maxPeriods int) PeriodCalculator {
	if loc == nil {
		loc = time.UTC
	}
	return PeriodCalculator{loc: loc, maxPeriods: maxPeriods}
}

// Location returns the billing time zone.
func (c PeriodCalculator) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func cycleMonths(cycle BillingCycle) int {
	switch cycle {
	case CycleQuarterly:
		return 3
	case CycleAnnually:
		return 12
	default:
		return 1
	}
}

// boundary returns day `day` of the month `offset` months after (year, month),
// clamped to that month's last day, at midnight in loc.
func boundary(year int, month time.Month, offset, day int, loc *time.Location) time.Time {
	total := year*12 + int(month-1) + offset
	y, m := total/12, time.Month(total%12+1)
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}

// PeriodContaining returns the billing period of cfg that contains t.
func (c PeriodCalculator) PeriodContaining(cfg Config, t time.Time) BillingPeriod {
	loc := c.Location()
	t = t.In(loc)
	n := cycleMonths(cfg.BillingCycle)
	anchor := t.Month()
	switch cfg.BillingCycle {
	case CycleQuarterly:
		anchor = time.Month((int(t.Month())-1)/3*3 + 1)
	case CycleAnnually:
		anchor = time.January
	}
	offset := 0
	start := boundary(t.Year(), anchor, offset, cfg.BillingDay, loc)
	if t.Before(start) {
		offset = -n
		start = boundary(t.Year(), anchor, offset, cfg.BillingDay, loc)
	}
	end := boundary(t.Year(), anchor, offset+n, cfg.BillingDay, loc)
	return c.period(cfg.BillingCycle, start, end)
}

// Next returns the period immediately after p.
func (c PeriodCalculator) Next(cfg Config, p BillingPeriod) BillingPeriod {
	return c.PeriodContaining(cfg, p.End)
}

// Elapsed lists every period of cfg that has fully ended by ref and is not covered by
// billing already done. billedThrough is the end of the latest billed period of the
// branch (zero when nothing was billed). When the backfill cap applies, the most
// recent periods are kept.
func (c PeriodCalculator) Elapsed(cfg Config, billedThrough, ref time.Time) []BillingPeriod {
	var periods []BillingPeriod
	for p := c.firstUnbilled(cfg, billedThrough); !p.End.After(ref); p = c.Next(cfg, p) {
		periods = append(periods, p)
	}
	if c.maxPeriods > 0 && len(periods) > c.maxPeriods {
		periods = periods[len(periods)-c.maxPeriods:]
	}
	return periods
}

// firstUnbilled picks where billing resumes. A fresh config bills the whole period
// containing its activation. Billing continues from the later of the activation time
// and billedThrough; when that instant falls inside a period, the remainder of the
// period is billed as a stub so no day is charged twice.
func (c PeriodCalculator) firstUnbilled(cfg Config, billedThrough time.Time) BillingPeriod {
	since := cfg.ActiveSince
	if since.IsZero() {
		since = cfg.CreatedAt
	}
	from := since
	switch {
	case !billedThrough.IsZero() && !billedThrough.Before(since):
		from = billedThrough
	case !since.After(cfg.CreatedAt):
		return c.PeriodContaining(cfg, since)
	default:
		// Reactivated: the reactivation day is billable in full.
		loc := c.Location()
		t := from.In(loc)
		from = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
	p := c.PeriodContaining(cfg, from)
	if !p.Start.Before(from) {
		return p
	}
	return c.stub(from.In(c.Location()), p)
}

func (c PeriodCalculator) stub(from time.Time, regular BillingPeriod) BillingPeriod {
	return BillingPeriod{
		Label:   from.Format("Jan 2") + " - " + regular.End.AddDate(0, 0, -1).Format("Jan 2, 2006"),
		Start:   from,
		End:     regular.End,
		DueDate: regular.End,
		Partial: true,
		share:   decimal.NewFromInt(days(from, regular.End)).Div(decimal.NewFromInt(days(regular.Start, regular.End))),
	}
}

// days counts calendar days between two midnights, tolerating DST shifts.
func days(from, to time.Time) int64 {
	return int64(math.Round(to.Sub(from).Hours() / 24))
}

// Override builds a manually chosen period, labelled like a regular one when label is empty.
func (c PeriodCalculator) Override(cycle BillingCycle, start, end time.Time, label string) BillingPeriod {
	p := c.period(cycle, start.In(c.Location()), end.In(c.Location()))
	if label != "" {
		p.Label = label
	}
	return p
}

func (c PeriodCalculator) period(cycle BillingCycle, start, end time.Time) BillingPeriod {
	return BillingPeriod{
		Label:   periodLabel(cycle, start),
		Start:   start,
		End:     end,
		DueDate: end,
	}
}

func periodLabel(cycle BillingCycle, start time.Time) string {
	switch cycle {
	case CycleQuarterly:
		return fmt.Sprintf("Q%d %d", (int(start.Month())-1)/3+1, start.Year())
	case CycleAnnually:
		return fmt.Sprintf("%d", start.Year())
	default:
		return start.Format("January 2006")
	}
}
