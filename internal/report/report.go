// Package report aggregates expense entries into period-bucketed reports.
// Reports are derived on demand and never stored.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind selects the bucket size of a report
type Kind string

const (
	Monthly Kind = "monthly" // six month buckets per half-year
	Annual  Kind = "annual"  // four quarter buckets per year
)

// Period selects which window a report covers relative to now
type Period string

const (
	Current  Period = "current"
	Previous Period = "previous"
)

// Uncategorized is the category name used for entries without one
const Uncategorized = "Uncategorized"

var hundred = decimal.NewFromInt(100)

// ParseKind validates a report kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Monthly, Annual:
		return k, nil
	}
	return "", fmt.Errorf("unknown report kind %q", s)
}

// ParsePeriod validates a report period
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case Current, Previous:
		return p, nil
	}
	return "", fmt.Errorf("unknown report period %q", s)
}

// Entry is the slice of a document the aggregation needs
type Entry struct {
	Date     time.Time
	Amount   decimal.Decimal
	Category string
	Income   bool
	Rejected bool
}

// CategoryShare is one row of the category breakdown
type CategoryShare struct {
	Name              string          `json:"name"`
	Amount            decimal.Decimal `json:"amount"`
	PercentageOfTotal int             `json:"percentage_of_total"`
}

// Report is the aggregated view over one window
type Report struct {
	Kind               Kind                `json:"kind"`
	Period             Period              `json:"period"`
	From               time.Time           `json:"from"`
	To                 time.Time           `json:"to"`
	PeriodLabels       []string            `json:"period_labels"`
	SeriesTotals       []decimal.Decimal   `json:"series_totals"`
	CategoryBreakdown  []CategoryShare     `json:"category_breakdown"`
	TotalForPeriod     decimal.Decimal     `json:"total_for_period"`
	AveragePerBucket   decimal.Decimal     `json:"average_per_bucket"`
	TrendVsPriorPeriod decimal.NullDecimal `json:"trend_vs_prior_period"` // signed percentage, null without a prior total
	GeneratedAt        time.Time           `json:"generated_at"`
}

// window is a half-open date range [from, to)
type window struct {
	from, to time.Time
}

func (w window) contains(t time.Time) bool {
	return !t.Before(w.from) && t.Before(w.to)
}

// windowFor returns the window of kind that contains now, shifted back by
// `back` windows.
func windowFor(kind Kind, now time.Time, back int) window {
	now = now.UTC()
	switch kind {
	case Annual:
		from := time.Date(now.Year()-back, time.January, 1, 0, 0, 0, 0, time.UTC)
		return window{from: from, to: from.AddDate(1, 0, 0)}
	default:
		startMonth := time.January
		if now.Month() >= time.July {
			startMonth = time.July
		}
		from := time.Date(now.Year(), startMonth, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -6*back, 0)
		return window{from: from, to: from.AddDate(0, 6, 0)}
	}
}

// bucketStart returns the first day of the bucket t falls into
func bucketStart(kind Kind, t time.Time) time.Time {
	t = t.UTC()
	if kind == Annual {
		q := (int(t.Month()) - 1) / 3
		return time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func bucketLabel(kind Kind, start time.Time) string {
	if kind == Annual {
		return fmt.Sprintf("%d Q%d", start.Year(), (int(start.Month())-1)/3+1)
	}
	return start.Format("Jan 2006")
}

// counts reports whether an entry contributes to expense totals
func counts(e Entry) bool {
	return !e.Income && !e.Rejected && !e.Amount.IsNegative()
}

// Generate builds the report of kind for period, relative to now. Buckets
// holding no entries are omitted, so the average is taken over active buckets.
func Generate(kind Kind, period Period, now time.Time, entries []Entry) Report {
	back := 0
	if period == Previous {
		back = 1
	}
	win := windowFor(kind, now, back)
	prior := windowFor(kind, now, back+1)

	r := Report{
		Kind:              kind,
		Period:            period,
		From:              win.from,
		To:                win.to.AddDate(0, 0, -1),
		PeriodLabels:      []string{},
		SeriesTotals:      []decimal.Decimal{},
		CategoryBreakdown: []CategoryShare{},
		TotalForPeriod:    decimal.Zero,
		AveragePerBucket:  decimal.Zero,
		GeneratedAt:       now,
	}

	buckets := make(map[time.Time]decimal.Decimal)
	categories := make(map[string]decimal.Decimal)
	priorTotal := decimal.Zero

	for _, e := range entries {
		if !counts(e) {
			continue
		}
		switch {
		case win.contains(e.Date):
			key := bucketStart(kind, e.Date)
			buckets[key] = buckets[key].Add(e.Amount)

			name := strings.TrimSpace(e.Category)
			if name == "" {
				name = Uncategorized
			}
			categories[name] = categories[name].Add(e.Amount)

			r.TotalForPeriod = r.TotalForPeriod.Add(e.Amount)
		case prior.contains(e.Date):
			priorTotal = priorTotal.Add(e.Amount)
		}
	}

	starts := make([]time.Time, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for _, start := range starts {
		r.PeriodLabels = append(r.PeriodLabels, bucketLabel(kind, start))
		r.SeriesTotals = append(r.SeriesTotals, buckets[start])
	}

	if len(starts) > 0 {
		r.AveragePerBucket = r.TotalForPeriod.Div(decimal.NewFromInt(int64(len(starts)))).Round(2)
	}

	r.CategoryBreakdown = breakdown(categories, r.TotalForPeriod)

	if !priorTotal.IsZero() {
		trend := r.TotalForPeriod.Sub(priorTotal).Div(priorTotal).Mul(hundred).Round(2)
		r.TrendVsPriorPeriod = decimal.NewNullDecimal(trend)
	}

	return r
}

func breakdown(categories map[string]decimal.Decimal, total decimal.Decimal) []CategoryShare {
	shares := make([]CategoryShare, 0, len(categories))
	for name, amount := range categories {
		pct := 0
		if !total.IsZero() {
			pct = int(amount.Div(total).Mul(hundred).Round(0).IntPart())
		}
		shares = append(shares, CategoryShare{Name: name, Amount: amount, PercentageOfTotal: pct})
	}
	sort.Slice(shares, func(i, j int) bool {
		if c := shares[i].Amount.Cmp(shares[j].Amount); c != 0 {
			return c > 0
		}
		return shares[i].Name < shares[j].Name
	})
	return shares
}
