package usecase

import (
	"context"
	"net/url"
	"time"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
)

type CartRepo interface {
	GetCart(ctx context.Context, cartID int64) (*domain.Cart, error)
	GetCartByCustomer(ctx context.Context, customerID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, cartID int64) (int64, error)
}

type VariantRepo interface {
	GetVariants(ctx context.Context, ids []int64) (map[int64]domain.ProductVariant, error)
	// LockStock re-reads stock under a row lock; only meaningful inside WithTx.
	LockStock(ctx context.Context, variantID int64) (int, error)
	// DecrementStock reports false when the guarded update matched no row.
	DecrementStock(ctx context.Context, variantID int64, qty int) (bool, error)
	IncrementStock(ctx context.Context, variantID int64, qty int) error
}

type OrderRepo interface {
	// CreateOrder inserts the order and its items and fills in their IDs.
	// A duplicate order code yields ErrDuplicateCode.
	CreateOrder(ctx context.Context, o *domain.Order) error
	GetByCode(ctx context.Context, code string) (*domain.Order, error)
	LockByCode(ctx context.Context, code string) (*domain.Order, error)
	UpdateState(ctx context.Context, o *domain.Order) error
	CountRedemptions(ctx context.Context, couponID int64) (int, error)
	InsertPayment(ctx context.Context, p *domain.PaymentRecord) error
}

type CouponRepo interface {
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)
	LockByCode(ctx context.Context, code string) (*domain.Coupon, error)
}

type OutboxRepo interface {
	Insert(ctx context.Context, ev OutboxEvent) error
	FetchPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id int64) error
}

type Repos interface {
	Carts() CartRepo
	Variants() VariantRepo
	Orders() OrderRepo
	Coupons() CouponRepo
	Outbox() OutboxRepo
}

// Store is the single transactional datastore. Repos returned by the
// embedded accessors run outside a transaction.
type Store interface {
	Repos
	// WithTx commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	Release(ctx context.Context, scope, key string) error
}

// StatusSnapshot is the cached projection of an order's state.
type StatusSnapshot struct {
	OrderCode     string    `json:"orderCode"`
	CustomerID    string    `json:"customerId"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type OrderCache interface {
	SetStatus(ctx context.Context, snap StatusSnapshot) error
	GetStatus(ctx context.Context, orderCode string) (StatusSnapshot, bool, error)
}

type PaymentRequest struct {
	OrderCode   string
	Amount      int64
	Description string
	ClientIP    string
	CreatedAt   time.Time
}

// VerifiedCallback is an authentic gateway message; it may still carry a failure.
type VerifiedCallback struct {
	OrderRef      string
	Amount        int64
	ResponseCode  string
	TransactionNo string
	BankCode      string
	PayDate       *time.Time
}

func (v VerifiedCallback) Succeeded() bool { return v.ResponseCode == "00" }

type PaymentGateway interface {
	BuildRedirectURL(req PaymentRequest) (string, error)
	// VerifyCallback returns ErrInvalidSignature for unauthentic parameters.
	VerifyCallback(params url.Values) (VerifiedCallback, error)
}

// EventPublisher delivers an outbox record to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey, messageID string, body []byte) error
}

type Observer interface {
	CheckoutFinished(method domain.PaymentMethod, result string)
	CallbackHandled(outcome string)
	ReconciliationFlagged(reason string)
	OutboxRelayed(n int, err error)
}

type nopObserver struct{}

func (nopObserver) CheckoutFinished(domain.PaymentMethod, string) {}
func (nopObserver) CallbackHandled(string)                        {}
func (nopObserver) ReconciliationFlagged(string)                  {}
func (nopObserver) OutboxRelayed(int, error)                      {}
