package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/hosting-checkout/internal/domain/coupon"
	"github.com/xenking/hosting-checkout/internal/domain/plan"
)

const (
	instrumentationName = "github.com/xenking/hosting-checkout/internal/domain/order"

	// PageSize is the number of orders returned by ListOrders.
	PageSize = 20
	// MaxPage is the highest page ListOrders serves.
	MaxPage = 1_000_000

	defaultTxTimeout = 5 * time.Second
)

// CreateOrderRequest holds the input for placing an order.
type CreateOrderRequest struct {
	UserID       string
	PlanID       *int64
	NodeLocation string
	Config       Resources
	Price        decimal.Decimal
	CouponCode   string
}

// CreateOrderResult holds the output of a committed order. Amounts keep full
// precision.
type CreateOrderResult struct {
	OrderID        string
	FinalPrice     decimal.Decimal
	DiscountAmount decimal.Decimal
	Order          *Order
}

// Page is one page of the admin order listing.
type Page struct {
	Orders     []Summary
	Page       int
	TotalPages int
	Total      int
}

// Option configures a Service.
type Option func(*options)

type options struct {
	txTimeout      time.Duration
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithTxTimeout bounds the order transaction. Non-positive values are ignored.
func WithTxTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.txTimeout = d
		}
	}
}

// WithTelemetry sets the providers used for order spans and counters.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// Service encapsulates order placement and lifecycle business logic.
type Service struct {
	plans     plan.Repository
	store     Store
	txTimeout time.Duration

	now   func() time.Time
	newID func() string

	tracer   trace.Tracer
	created  metric.Int64Counter
	rejected metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(plans plan.Repository, store Store, opts ...Option) (*Service, error) {
	o := options{
		txTimeout:      defaultTxTimeout,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	meter := o.meterProvider.Meter(instrumentationName)
	created, err := meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders committed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders created counter")
	}
	rejected, err := meter.Int64Counter("checkout.coupon.rejections",
		metric.WithDescription("Coupons rejected at checkout, by reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "coupon rejections counter")
	}

	return &Service{
		plans:     plans,
		store:     store,
		txTimeout: o.txTimeout,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
		tracer:    o.tracerProvider.Tracer(instrumentationName),
		created:   created,
		rejected:  rejected,
	}, nil
}

// CreateOrder prices the order, redeems the coupon if one is given and
// persists everything in one transaction. Either the order, its ledger entry
// and the usage increment all commit, or none of them do.
//
// Rejections are returned as *InvalidAmountError, ErrInvalidResources,
// ErrPlanNotFound or *coupon.InvalidError. Any other error is a persistence
// failure. An empty CouponCode means no coupon; a blank one is looked up and
// rejected as not found.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder",
		trace.WithAttributes(attribute.Bool("order.coupon", req.CouponCode != "")),
	)
	defer span.End()

	if !req.Price.IsPositive() {
		return nil, &InvalidAmountError{Price: req.Price}
	}
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkPlan(ctx, req.PlanID); err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:             s.newID(),
		UserID:         req.UserID,
		PlanID:         req.PlanID,
		NodeLocation:   req.NodeLocation,
		Config:         req.Config,
		OriginalPrice:  req.Price,
		DiscountAmount: decimal.Zero,
		FinalPrice:     req.Price,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	code := coupon.NormalizeCode(req.CouponCode)

	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	err := s.store.InTx(txCtx, func(ctx context.Context, tx Tx) error {
		var usage *coupon.Usage
		if req.CouponCode != "" {
			if code == "" {
				return &coupon.InvalidError{Reason: coupon.ReasonNotFound}
			}
			c, err := tx.LockCoupon(ctx, code)
			if err != nil {
				if errors.Is(err, coupon.ErrNotFound) {
					return &coupon.InvalidError{Code: code, Reason: coupon.ReasonNotFound}
				}
				return errors.Wrap(err, "lock coupon")
			}
			ev, err := coupon.Evaluate(c, req.Price, now)
			if err != nil {
				return err
			}
			o.CouponID = &c.ID
			o.DiscountAmount = ev.Discount
			o.FinalPrice = ev.FinalPrice
			usage = &coupon.Usage{
				CouponID:       c.ID,
				UserID:         req.UserID,
				OrderID:        o.ID,
				DiscountAmount: ev.Discount,
				CreatedAt:      now,
			}
		}

		if err := tx.Insert(ctx, o); err != nil {
			return errors.Wrap(err, "insert order")
		}
		if usage == nil {
			return nil
		}
		if err := tx.InsertCouponUsage(ctx, usage); err != nil {
			return errors.Wrap(err, "insert coupon usage")
		}
		ok, err := tx.IncrementCouponUsage(ctx, usage.CouponID)
		if err != nil {
			return errors.Wrap(err, "increment coupon usage")
		}
		if !ok {
			return &coupon.InvalidError{Code: code, Reason: coupon.ReasonExhausted}
		}
		return nil
	})
	if err != nil {
		var invalid *coupon.InvalidError
		if errors.As(err, &invalid) {
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(invalid.Reason))))
			span.SetAttributes(attribute.String("coupon.rejection", string(invalid.Reason)))
			return nil, invalid
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order")
		return nil, errors.Wrap(err, "create order")
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.Bool("coupon", o.CouponID != nil)))
	span.SetAttributes(attribute.String("order.id", o.ID))

	return &CreateOrderResult{
		OrderID:        o.ID,
		FinalPrice:     o.FinalPrice,
		DiscountAmount: o.DiscountAmount,
		Order:          o,
	}, nil
}

func (s *Service) checkPlan(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	p, err := s.plans.GetByID(ctx, *id)
	if err != nil {
		if errors.Is(err, plan.ErrNotFound) {
			return ErrPlanNotFound
		}
		return errors.Wrap(err, "get plan")
	}
	if !p.Active {
		return ErrPlanNotFound
	}
	return nil
}

// GetOrder returns an order owned by userID. Orders of other users are
// reported as ErrNotFound.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*Summary, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %s", orderID)
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	return o, nil
}

// UpdateStatus moves an order along its lifecycle. paymentRef is stored when
// not empty.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status, paymentRef string) error {
	if !to.Valid() {
		return errors.Wrapf(ErrUnknownStatus, "status %q", to)
	}
	from := AllowedFrom(to)
	if len(from) == 0 {
		return &TransitionError{OrderID: orderID, To: to}
	}

	ok, err := s.store.UpdateStatus(ctx, orderID, to, from, paymentRef, s.now())
	if err != nil {
		return errors.Wrapf(err, "update order %s", orderID)
	}
	if ok {
		return nil
	}

	// Nothing matched: either the order is gone or its status forbids the move.
	current, err := s.store.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "get order %s", orderID)
	}
	return &TransitionError{OrderID: orderID, From: current.Status, To: to}
}

// ListOrders returns the given 1-based page of all orders, newest first.
func (s *Service) ListOrders(ctx context.Context, page int) (*Page, error) {
	page = min(max(page, 1), MaxPage)
	orders, total, err := s.store.List(ctx, PageSize, (page-1)*PageSize)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &Page{
		Orders:     orders,
		Page:       page,
		TotalPages: (total + PageSize - 1) / PageSize,
		Total:      total,
	}, nil
}
