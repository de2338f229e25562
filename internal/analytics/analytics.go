// Package analytics derives dashboard figures from the ledger and goals.
// Nothing here is stored; every figure is recomputed from records.
package analytics

import (
	"sort"
	"strings"
	"time"

	"github.com/rongwang/bytebank/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MonthlyTrend sums one calendar month of transactions.
type MonthlyTrend struct {
	Month    string `json:"month"` // YYYY-MM
	Income   int64  `json:"income"`
	Expenses int64  `json:"expenses"` // positive
	Net      int64  `json:"net"`
}

// CategoryShare is one expense category's part of total spending.
type CategoryShare struct {
	Category string          `json:"category"`
	Total    int64           `json:"total"` // positive
	Count    int             `json:"count"`
	Percent  decimal.Decimal `json:"percent"`
}

// GoalProgress is the derived state of a financial goal.
type GoalProgress struct {
	GoalID    string          `json:"goalId"`
	Title     string          `json:"title"`
	Target    int64           `json:"target"`
	Current   int64           `json:"current"`
	Remaining int64           `json:"remaining"`
	Percent   decimal.Decimal `json:"percent"`
	DaysLeft  int             `json:"daysLeft"`
	Completed bool            `json:"completed"`
	Overdue   bool            `json:"overdue"`
}

// Summary is everything the dashboard's analytics view shows.
type Summary struct {
	Income     int64           `json:"income"`
	Expenses   int64           `json:"expenses"`
	Net        int64           `json:"net"`
	Trend      []MonthlyTrend  `json:"trend"`
	Categories []CategoryShare `json:"categories"`
	Goals      []GoalProgress  `json:"goals"`
}

// Summarize computes the full analytics view.
func Summarize(txs []models.Transaction, goals []models.FinancialGoal, now time.Time) Summary {
	s := Summary{
		Trend:      SpendingTrend(txs),
		Categories: CategoryBreakdown(txs),
		Goals:      make([]GoalProgress, 0, len(goals)),
	}
	for _, t := range txs {
		if t.Value >= 0 {
			s.Income += t.Value
		} else {
			s.Expenses -= t.Value
		}
	}
	s.Net = s.Income - s.Expenses

	for _, g := range goals {
		s.Goals = append(s.Goals, Progress(g, now))
	}
	return s
}

// SpendingTrend groups transactions by month, oldest first.
func SpendingTrend(txs []models.Transaction) []MonthlyTrend {
	byMonth := map[string]*MonthlyTrend{}
	for _, t := range txs {
		if len(t.Date) < 7 {
			continue
		}
		month := t.Date[:7]
		m, ok := byMonth[month]
		if !ok {
			m = &MonthlyTrend{Month: month}
			byMonth[month] = m
		}
		if t.Value >= 0 {
			m.Income += t.Value
		} else {
			m.Expenses -= t.Value
		}
		m.Net = m.Income - m.Expenses
	}

	trend := make([]MonthlyTrend, 0, len(byMonth))
	for _, m := range byMonth {
		trend = append(trend, *m)
	}
	sort.Slice(trend, func(i, j int) bool { return trend[i].Month < trend[j].Month })
	return trend
}

// CategoryBreakdown splits expenses by category, largest first. Percentages
// are rounded to two places.
func CategoryBreakdown(txs []models.Transaction) []CategoryShare {
	byCategory := map[string]*CategoryShare{}
	var total int64
	for _, t := range txs {
		if t.Value >= 0 {
			continue
		}
		name := t.Category
		if name == "" {
			name = "Outros"
		}
		c, ok := byCategory[name]
		if !ok {
			c = &CategoryShare{Category: name}
			byCategory[name] = c
		}
		c.Total -= t.Value
		c.Count++
		total -= t.Value
	}

	shares := make([]CategoryShare, 0, len(byCategory))
	for _, c := range byCategory {
		c.Percent = percent(c.Total, total)
		shares = append(shares, *c)
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Total != shares[j].Total {
			return shares[i].Total > shares[j].Total
		}
		return shares[i].Category < shares[j].Category
	})
	return shares
}

// Progress derives a goal's completion. Percent is capped at 100.
func Progress(g models.FinancialGoal, now time.Time) GoalProgress {
	p := GoalProgress{
		GoalID:  g.ID,
		Title:   g.Title,
		Target:  g.TargetAmount,
		Current: g.CurrentAmount,
		Percent: percent(g.CurrentAmount, g.TargetAmount),
	}
	if p.Percent.GreaterThan(hundred) {
		p.Percent = hundred
	}

	p.Remaining = g.TargetAmount - g.CurrentAmount
	if p.Remaining < 0 {
		p.Remaining = 0
	}
	p.Completed = g.TargetAmount > 0 && g.CurrentAmount >= g.TargetAmount

	if deadline, err := time.Parse(models.DateLayout, g.Deadline); err == nil {
		today := now.UTC().Truncate(24 * time.Hour)
		p.DaysLeft = int(deadline.Sub(today).Hours() / 24)
		if p.DaysLeft < 0 {
			p.DaysLeft = 0
			p.Overdue = !p.Completed
		}
	}
	return p
}

func percent(part, whole int64) decimal.Decimal {
	if whole <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Round(2)
}

// FormatBRL renders minor units as Brazilian currency, e.g. "R$ -1.234,56".
func FormatBRL(minor int64) string {
	amount := decimal.New(minor, -2).StringFixed(2)

	sign := ""
	if strings.HasPrefix(amount, "-") {
		sign, amount = "-", amount[1:]
	}
	whole, cents, _ := strings.Cut(amount, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return "R$ " + sign + b.String() + "," + cents
}
