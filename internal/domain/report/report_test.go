package report

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	since     time.Time
	limit     int
	couponErr error
}

func (m *mockRepo) RevenueByMonth(_ context.Context, since time.Time) ([]MonthlyRevenue, error) {
	m.since = since
	return []MonthlyRevenue{{Month: since, Orders: 2, Revenue: decimal.RequireFromString("19.98")}}, nil
}

func (m *mockRepo) PopularPlans(_ context.Context) ([]PlanPopularity, error) {
	return []PlanPopularity{{PlanID: 1, Name: "Starter", Orders: 2}}, nil
}

func (m *mockRepo) TopCoupons(_ context.Context, limit int) ([]CouponStat, error) {
	m.limit = limit
	if m.couponErr != nil {
		return nil, m.couponErr
	}
	return []CouponStat{{CouponID: 1, Code: "SAVE10", Uses: 3}}, nil
}

func TestSummary(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)
	svc.now = func() time.Time { return time.Date(2025, 3, 17, 9, 30, 0, 0, time.UTC) }

	got, err := svc.Summary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), repo.since)
	assert.Equal(t, topCoupons, repo.limit)
	assert.Len(t, got.Revenue, 1)
	assert.Len(t, got.Plans, 1)
	require.Len(t, got.Coupons, 1)
	assert.Equal(t, "SAVE10", got.Coupons[0].Code)
}

func TestSummary_Error(t *testing.T) {
	svc := NewService(&mockRepo{couponErr: errors.New("timeout")})

	_, err := svc.Summary(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "top coupons")
}
