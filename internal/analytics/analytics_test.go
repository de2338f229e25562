package analytics_test

import (
	"testing"
	"time"

	"github.com/rongwang/bytebank/internal/analytics"
	"github.com/rongwang/bytebank/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txs = []models.Transaction{
	{ID: "1", Value: 500000, Date: "2024-04-05", Category: "Salário"},
	{ID: "2", Value: -30000, Date: "2024-04-10", Category: "Alimentação"},
	{ID: "3", Value: -10000, Date: "2024-05-02", Category: "Transporte"},
	{ID: "4", Value: -60000, Date: "2024-05-20", Category: "Alimentação"},
	{ID: "5", Value: 20000, Date: "2024-05-21", Category: "Freelance"},
}

func TestSpendingTrend(t *testing.T) {
	trend := analytics.SpendingTrend(txs)
	require.Len(t, trend, 2)

	assert.Equal(t, analytics.MonthlyTrend{Month: "2024-04", Income: 500000, Expenses: 30000, Net: 470000}, trend[0])
	assert.Equal(t, analytics.MonthlyTrend{Month: "2024-05", Income: 20000, Expenses: 70000, Net: -50000}, trend[1])
}

func TestCategoryBreakdown(t *testing.T) {
	shares := analytics.CategoryBreakdown(txs)
	require.Len(t, shares, 2)

	assert.Equal(t, "Alimentação", shares[0].Category)
	assert.Equal(t, int64(90000), shares[0].Total)
	assert.Equal(t, 2, shares[0].Count)
	assert.Equal(t, "90", shares[0].Percent.String())

	assert.Equal(t, "Transporte", shares[1].Category)
	assert.Equal(t, "10", shares[1].Percent.String())
}

func TestCategoryBreakdownWithoutExpenses(t *testing.T) {
	shares := analytics.CategoryBreakdown([]models.Transaction{{Value: 100}})
	assert.Empty(t, shares)
}

func TestGoalProgress(t *testing.T) {
	now := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

	p := analytics.Progress(models.FinancialGoal{
		ID: "g1", Title: "Viagem", TargetAmount: 300000, CurrentAmount: 100000, Deadline: "2024-06-11",
	}, now)
	assert.Equal(t, "33.33", p.Percent.String())
	assert.Equal(t, int64(200000), p.Remaining)
	assert.Equal(t, 10, p.DaysLeft)
	assert.False(t, p.Completed)
	assert.False(t, p.Overdue)

	done := analytics.Progress(models.FinancialGoal{TargetAmount: 1000, CurrentAmount: 1500, Deadline: "2024-01-01"}, now)
	assert.Equal(t, "100", done.Percent.String())
	assert.Zero(t, done.Remaining)
	assert.True(t, done.Completed)
	assert.False(t, done.Overdue)

	late := analytics.Progress(models.FinancialGoal{TargetAmount: 1000, CurrentAmount: 10, Deadline: "2024-05-01"}, now)
	assert.True(t, late.Overdue)
	assert.Zero(t, late.DaysLeft)
}

func TestSummarize(t *testing.T) {
	s := analytics.Summarize(txs, nil, time.Now())
	assert.Equal(t, int64(520000), s.Income)
	assert.Equal(t, int64(100000), s.Expenses)
	assert.Equal(t, int64(420000), s.Net)
	assert.NotNil(t, s.Goals)
}

func TestFormatBRL(t *testing.T) {
	assert.Equal(t, "R$ 0,05", analytics.FormatBRL(5))
	assert.Equal(t, "R$ 1.234,56", analytics.FormatBRL(123456))
	assert.Equal(t, "R$ -2.000,00", analytics.FormatBRL(-200000))
	assert.Equal(t, "R$ 1.000.000,00", analytics.FormatBRL(100000000))
}
