package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/hosting-checkout/internal/domain/auth"
	"github.com/xenking/hosting-checkout/internal/domain/coupon"
	"github.com/xenking/hosting-checkout/internal/domain/order"
	"github.com/xenking/hosting-checkout/internal/domain/plan"
	"github.com/xenking/hosting-checkout/internal/domain/report"
)

const (
	testPepper = "pepper"
	testAPIKey = "admin-key"
	testSecret = "jwt-secret"
)

// --- Mock implementations ---

type mockPlanRepo struct {
	plans []plan.Plan
	err   error
}

func (m *mockPlanRepo) ListActive(_ context.Context) ([]plan.Plan, error) {
	return m.plans, m.err
}

func (m *mockPlanRepo) GetByID(_ context.Context, id int64) (*plan.Plan, error) {
	for i := range m.plans {
		if m.plans[i].ID == id {
			return &m.plans[i], nil
		}
	}
	return nil, plan.ErrNotFound
}

type mockCouponRepo struct {
	coupons   map[string]*coupon.Coupon
	summaries []coupon.Summary
	saveErr   error
	saved     *coupon.Coupon
	deleteErr error
}

func (m *mockCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := m.coupons[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCouponRepo) Create(_ context.Context, c *coupon.Coupon) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	c.ID = 100
	m.saved = c
	return nil
}

func (m *mockCouponRepo) Update(_ context.Context, c *coupon.Coupon) error {
	m.saved = c
	return m.saveErr
}

func (m *mockCouponRepo) List(_ context.Context) ([]coupon.Summary, error) {
	return m.summaries, nil
}

func (m *mockCouponRepo) Delete(_ context.Context, _ int64) error {
	return m.deleteErr
}

func (m *mockCouponRepo) ListUsage(_ context.Context, id int64) ([]coupon.Usage, error) {
	return []coupon.Usage{{ID: 1, CouponID: id, UserID: "u1", OrderID: "o1", DiscountAmount: decimal.NewFromInt(3)}}, nil
}

// mockStore keeps committed orders in memory and runs transactions against
// the coupons of a mockCouponRepo.
type mockStore struct {
	coupons *mockCouponRepo
	orders  map[string]*order.Order
	failTx  error
}

type mockTx struct {
	s       *mockStore
	pending []*order.Order
	incr    []int64
}

func (s *mockStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	if s.failTx != nil {
		return s.failTx
	}
	tx := &mockTx{s: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, o := range tx.pending {
		s.orders[o.ID] = o
	}
	for _, id := range tx.incr {
		for _, c := range s.coupons.coupons {
			if c.ID == id {
				c.UsageCount++
			}
		}
	}
	return nil
}

func (s *mockStore) Get(_ context.Context, id string) (*order.Summary, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &order.Summary{Order: *o}, nil
}

func (s *mockStore) List(_ context.Context, _, _ int) ([]order.Summary, int, error) {
	out := make([]order.Summary, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, order.Summary{Order: *o})
	}
	return out, len(out), nil
}

func (s *mockStore) UpdateStatus(_ context.Context, id string, to order.Status, from []order.Status, _ string, _ time.Time) (bool, error) {
	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (tx *mockTx) LockCoupon(ctx context.Context, code string) (*coupon.Coupon, error) {
	return tx.s.coupons.FindByCode(ctx, code)
}

func (tx *mockTx) Insert(_ context.Context, o *order.Order) error {
	tx.pending = append(tx.pending, o)
	return nil
}

func (tx *mockTx) InsertCouponUsage(_ context.Context, _ *coupon.Usage) error {
	return nil
}

func (tx *mockTx) IncrementCouponUsage(_ context.Context, id int64) (bool, error) {
	for _, c := range tx.s.coupons.coupons {
		if c.ID == id && c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
			return false, nil
		}
	}
	tx.incr = append(tx.incr, id)
	return true, nil
}

type mockAPIKeyRepo struct {
	keys map[string]*auth.APIKeyInfo
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.keys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

type mockReportRepo struct{}

func (mockReportRepo) RevenueByMonth(_ context.Context, since time.Time) ([]report.MonthlyRevenue, error) {
	return []report.MonthlyRevenue{{Month: since, Orders: 1, Revenue: decimal.RequireFromString("90")}}, nil
}

func (mockReportRepo) PopularPlans(_ context.Context) ([]report.PlanPopularity, error) {
	return nil, nil
}

func (mockReportRepo) TopCoupons(_ context.Context, _ int) ([]report.CouponStat, error) {
	return []report.CouponStat{{CouponID: 1, Code: "SAVE10", Uses: 1, TotalDiscount: decimal.NewFromInt(10)}}, nil
}

// --- Helpers ---

type testEnv struct {
	router  http.Handler
	sec     *Security
	coupons *mockCouponRepo
	store   *mockStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	one := 1
	coupons := &mockCouponRepo{coupons: map[string]*coupon.Coupon{
		"SAVE10": {ID: 1, Code: "SAVE10", Type: coupon.DiscountPercentage, Value: decimal.NewFromInt(10), Active: true},
		"FLAT50": {ID: 2, Code: "FLAT50", Type: coupon.DiscountFixed, Value: decimal.NewFromInt(50), Active: true},
		"USED": {
			ID: 3, Code: "USED", Type: coupon.DiscountFixed, Value: decimal.NewFromInt(5), Active: true,
			UsageLimit: &one, UsageCount: 1,
		},
	}}
	plans := &mockPlanRepo{plans: []plan.Plan{
		{ID: 1, Name: "Starter", CPU: 1, RAMMB: 1024, DiskGB: 25, PriceMonthly: decimal.RequireFromString("5.99"), Active: true},
	}}
	store := &mockStore{coupons: coupons, orders: make(map[string]*order.Order)}

	orders, err := order.NewService(plans, store)
	require.NoError(t, err)

	h := NewHandler(plans, orders, coupon.NewEvaluator(coupons), coupon.NewAdmin(coupons), report.NewService(mockReportRepo{}))

	apikeys := &mockAPIKeyRepo{keys: map[string]*auth.APIKeyInfo{}}
	hash := HashAPIKey([]byte(testPepper), testAPIKey)
	apikeys.keys[hash] = &auth.APIKeyInfo{ID: "k1", KeyHash: hash, Scopes: []string{auth.ScopeAdmin}}
	readOnly := HashAPIKey([]byte(testPepper), "read-only")
	apikeys.keys[readOnly] = &auth.APIKeyInfo{ID: "k2", KeyHash: readOnly, Scopes: []string{"read"}}

	sec := NewSecurity(apikeys, []byte(testPepper), []byte(testSecret))
	return &testEnv{router: h.Routes(sec), sec: sec, coupons: coupons, store: store}
}

func (env *testEnv) userToken(t *testing.T, id string) string {
	t.Helper()
	token, err := env.sec.IssueToken(auth.User{ID: id, Role: auth.RoleUser}, time.Hour)
	require.NoError(t, err)
	return token
}

func (env *testEnv) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) asUser(t *testing.T, id string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + env.userToken(t, id)}
}

func asAdmin() map[string]string {
	return map[string]string{APIKeyHeader: testAPIKey}
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// --- Tests ---

func TestCreateOrder(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantFinal  string
		wantDisc   string
		wantError  string
	}{
		{
			name:       "SAVE10 on 100.00",
			body:       `{"planId":1,"nodeLocation":"fra1","cpu":1,"ram":1024,"disk":25,"price":100.00,"couponCode":"SAVE10"}`,
			wantStatus: http.StatusCreated,
			wantFinal:  "90.00",
			wantDisc:   "10.00",
		},
		{
			name:       "FLAT50 on 30.00 as string price",
			body:       `{"price":"30.00","couponCode":"flat50"}`,
			wantStatus: http.StatusCreated,
			wantFinal:  "0.00",
			wantDisc:   "30.00",
		},
		{
			name:       "no coupon",
			body:       `{"price":12.5,"couponCode":null}`,
			wantStatus: http.StatusCreated,
			wantFinal:  "12.50",
			wantDisc:   "0.00",
		},
		{
			name:       "empty coupon code",
			body:       `{"price":20,"couponCode":""}`,
			wantStatus: http.StatusCreated,
			wantFinal:  "20.00",
			wantDisc:   "0.00",
		},
		{
			name:       "blank coupon code",
			body:       `{"price":50,"couponCode":"   "}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "coupon not found",
		},
		{
			name:       "unknown coupon",
			body:       `{"price":50,"couponCode":"BOGUS"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "coupon not found",
		},
		{
			name:       "exhausted coupon",
			body:       `{"price":50,"couponCode":"USED"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "coupon expired or exhausted",
		},
		{
			name:       "unknown plan",
			body:       `{"planId":9,"price":50}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  "plan not found",
		},
		{
			name:       "negative price",
			body:       `{"price":-1}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "non-numeric price",
			body:       `{"price":"abc"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid order amount",
		},
		{
			name:       "malformed body",
			body:       `{"price":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "cpu above int32",
			body:       `{"price":50,"cpu":4294967297}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative disk",
			body:       `{"price":50,"disk":-1}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, "/api/orders", tt.body, env.asUser(t, "u1"))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decodeMap(t, rec)
			if tt.wantStatus != http.StatusCreated {
				assert.Empty(t, env.store.orders)
				if tt.wantError != "" {
					assert.Equal(t, tt.wantError, body["error"])
				}
				return
			}
			assert.Equal(t, tt.wantFinal, body["finalPrice"])
			assert.Equal(t, tt.wantDisc, body["discountAmount"])
			require.Contains(t, env.store.orders, body["orderId"])
			assert.Equal(t, "u1", env.store.orders[body["orderId"].(string)].UserID)
		})
	}
}

func TestCreateOrder_PersistenceFailureIsOpaque(t *testing.T) {
	env := newTestEnv(t)
	env.store.failTx = errors.New("pq: connection refused to 10.0.0.3")

	rec := env.do(t, http.MethodPost, "/api/orders", `{"price":10}`, env.asUser(t, "u1"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed to create order", decodeMap(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "10.0.0.3")
}

func TestCreateOrder_Unauthorized(t *testing.T) {
	env := newTestEnv(t)

	for name, headers := range map[string]map[string]string{
		"missing": nil,
		"garbage": {"Authorization": "Bearer not-a-token"},
		"api key": asAdmin(),
	} {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/orders", `{"price":10}`, headers)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestGetOrder_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/orders", `{"price":10,"planId":1}`, env.asUser(t, "owner"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeMap(t, rec)["orderId"].(string)

	rec = env.do(t, http.MethodGet, "/api/orders/"+id, "", env.asUser(t, "owner"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "10.00", body["finalPrice"])

	rec = env.do(t, http.MethodGet, "/api/orders/"+id, "", env.asUser(t, "other"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreviewCoupon(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantValid  bool
		wantFinal  string
		wantMsg    string
	}{
		{name: "valid", body: `{"code":"save10","orderAmount":"100.00"}`, wantStatus: 200, wantValid: true, wantFinal: "90.00"},
		{name: "unknown", body: `{"code":"BOGUS","orderAmount":10}`, wantStatus: 200, wantMsg: "coupon not found"},
		{name: "exhausted", body: `{"code":"USED","orderAmount":10}`, wantStatus: 200, wantMsg: "coupon expired or exhausted"},
		{name: "negative amount", body: `{"code":"SAVE10","orderAmount":-5}`, wantStatus: 400},
		{name: "missing amount", body: `{"code":"SAVE10"}`, wantStatus: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, "/api/coupons/preview", tt.body, env.asUser(t, "u1"))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			body := decodeMap(t, rec)
			assert.Equal(t, tt.wantValid, body["valid"])
			if tt.wantValid {
				assert.Equal(t, tt.wantFinal, body["finalPrice"])
				assert.Equal(t, "SAVE10", body["coupon"].(map[string]any)["code"])
			} else {
				assert.Equal(t, tt.wantMsg, body["message"])
			}
			assert.Equal(t, 1, env.coupons.coupons["USED"].UsageCount)
			assert.Equal(t, 0, env.coupons.coupons["SAVE10"].UsageCount)
		})
	}
}

func TestListPlans(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/plans", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var plans []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plans))
	require.Len(t, plans, 1)
	assert.Equal(t, "Starter", plans[0]["name"])
	assert.Equal(t, "5.99", plans[0]["priceMonthly"])
}

func TestAdmin_Auth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/admin/coupons", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/coupons", "", map[string]string{APIKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/coupons", "", map[string]string{APIKeyHeader: "read-only"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/coupons", "", env.asUser(t, "u1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/coupons", "", asAdmin())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_SaveCoupon(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		saveErr    error
		wantStatus int
	}{
		{
			name:       "create",
			body:       `{"code":"xmas","type":"percentage","value":"25","usageLimit":100,"endDate":"2025-12-31T23:59:59Z"}`,
			wantStatus: http.StatusCreated,
		},
		{name: "update", body: `{"id":5,"code":"XMAS","type":"fixed","value":5}`, wantStatus: http.StatusOK},
		{name: "validation", body: `{"code":"X","type":"percentage","value":150}`, wantStatus: http.StatusBadRequest},
		{name: "duplicate", body: `{"code":"X","type":"fixed","value":1}`, saveErr: coupon.ErrDuplicateCode, wantStatus: http.StatusConflict},
		{name: "bad date", body: `{"code":"X","type":"fixed","value":1,"endDate":"tomorrow"}`, wantStatus: http.StatusBadRequest},
		{name: "limit above int32", body: `{"code":"X","type":"fixed","value":1,"usageLimit":4294967297}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.coupons.saveErr = tt.saveErr

			rec := env.do(t, http.MethodPut, "/api/admin/coupons", tt.body, asAdmin())

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if rec.Code < 300 {
				body := decodeMap(t, rec)
				assert.Equal(t, strings.ToUpper(env.coupons.saved.Code), body["code"])
			}
		})
	}
}

func TestAdmin_CouponEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.coupons.summaries = []coupon.Summary{{
		Coupon:     coupon.Coupon{ID: 1, Code: "SAVE10", Type: coupon.DiscountPercentage, Value: decimal.NewFromInt(10)},
		TotalUsage: 4,
	}}

	rec := env.do(t, http.MethodGet, "/api/admin/coupons", "", asAdmin())
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.EqualValues(t, 4, list[0]["totalUsage"])
	assert.Nil(t, list[0]["usageLimit"])

	rec = env.do(t, http.MethodGet, "/api/admin/coupons/1/usage", "", asAdmin())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"discountAmount":"3.00"`)

	rec = env.do(t, http.MethodDelete, "/api/admin/coupons/1", "", asAdmin())
	assert.Equal(t, http.StatusNoContent, rec.Code)

	env.coupons.deleteErr = coupon.ErrNotFound
	rec = env.do(t, http.MethodDelete, "/api/admin/coupons/1", "", asAdmin())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	env.coupons.deleteErr = coupon.ErrInUse
	rec = env.do(t, http.MethodDelete, "/api/admin/coupons/1", "", asAdmin())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, coupon.ErrInUse.Error(), decodeMap(t, rec)["error"])

	rec = env.do(t, http.MethodDelete, "/api/admin/coupons/abc", "", asAdmin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_OrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/orders", `{"price":10}`, env.asUser(t, "u1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeMap(t, rec)["orderId"].(string)

	rec = env.do(t, http.MethodPost, "/api/admin/orders/"+id+"/status", `{"status":"paid","paymentReference":"pi_1"}`, asAdmin())
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/admin/orders/"+id+"/status", `{"status":"paid"}`, asAdmin())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/orders/"+id+"/status", `{"status":"refunded"}`, asAdmin())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/orders/missing/status", `{"status":"paid"}`, asAdmin())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/orders?page=1", "", asAdmin())
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.EqualValues(t, 1, body["total"])
	assert.EqualValues(t, 1, body["totalPages"])

	for _, page := range []string{"0", "abc", "1000001", "461168601842738791"} {
		rec = env.do(t, http.MethodGet, "/api/admin/orders?page="+page, "", asAdmin())
		assert.Equal(t, http.StatusBadRequest, rec.Code, page)
	}
}

func TestAdmin_Reports(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/admin/reports", "", asAdmin())

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Len(t, body["revenueByMonth"], 1)
	assert.Empty(t, body["popularPlans"])
	coupons := body["coupons"].([]any)
	require.Len(t, coupons, 1)
	assert.Equal(t, "10.00", coupons[0].(map[string]any)["totalDiscount"])
}

func TestSecurity_TokenRoundTrip(t *testing.T) {
	sec := NewSecurity(&mockAPIKeyRepo{}, nil, []byte(testSecret))

	token, err := sec.IssueToken(auth.User{ID: "42", Role: auth.RoleAdmin}, time.Minute)
	require.NoError(t, err)

	u, err := sec.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, auth.User{ID: "42", Role: auth.RoleAdmin}, u)

	other := NewSecurity(&mockAPIKeyRepo{}, nil, []byte("other-secret"))
	_, err = other.ParseToken(token)
	require.Error(t, err)

	sec.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = sec.ParseToken(token)
	require.Error(t, err)
}

func TestNotFoundRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/nothing", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeMap(t, rec)["error"])
}
