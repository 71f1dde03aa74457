// Package memstore is an in-process Store for local runs and tests.
// Transactions are serialized by one mutex and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/aq2208/gorder-checkout/internal/entity"
	"github.com/aq2208/gorder-checkout/internal/usecase"
)

type outboxRow struct {
	rec  usecase.OutboxRecord
	sent bool
}

type state struct {
	carts    map[int64]*domain.Cart
	variants map[int64]*domain.ProductVariant
	coupons  map[string]*domain.Coupon
	orders   map[string]*domain.Order
	payments []domain.PaymentRecord
	outbox   []outboxRow
	seq      int64
}

func newState() *state {
	return &state{
		carts:    map[int64]*domain.Cart{},
		variants: map[int64]*domain.ProductVariant{},
		coupons:  map[string]*domain.Coupon{},
		orders:   map[string]*domain.Order{},
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *state) clone() *state {
	c := &state{
		carts:    make(map[int64]*domain.Cart, len(s.carts)),
		variants: make(map[int64]*domain.ProductVariant, len(s.variants)),
		coupons:  make(map[string]*domain.Coupon, len(s.coupons)),
		orders:   make(map[string]*domain.Order, len(s.orders)),
		payments: append([]domain.PaymentRecord(nil), s.payments...),
		outbox:   append([]outboxRow(nil), s.outbox...),
		seq:      s.seq,
	}
	for k, v := range s.carts {
		c.carts[k] = copyCart(v)
	}
	for k, v := range s.variants {
		vv := *v
		c.variants[k] = &vv
	}
	for k, v := range s.coupons {
		vv := *v
		c.coupons[k] = &vv
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// WithTx holds the store lock for the whole of fn.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx usecase.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(ctx, repos{st: s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// autocommit runs a single repo call under the lock.
func (s *Store) autocommit() repos { return repos{st: nil, store: s} }

func (s *Store) Carts() usecase.CartRepo       { return cartRepo{s.autocommit()} }
func (s *Store) Variants() usecase.VariantRepo { return variantRepo{s.autocommit()} }
func (s *Store) Orders() usecase.OrderRepo     { return orderRepo{s.autocommit()} }
func (s *Store) Coupons() usecase.CouponRepo   { return couponRepo{s.autocommit()} }
func (s *Store) Outbox() usecase.OutboxRepo    { return outboxRepo{s.autocommit()} }

// repos binds either to a transaction's state or to the store for autocommit calls.
type repos struct {
	st    *state
	store *Store
}

func (r repos) run(fn func(st *state) error) error {
	if r.st != nil {
		return fn(r.st)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return fn(r.store.st)
}

func (r repos) Carts() usecase.CartRepo       { return cartRepo{r} }
func (r repos) Variants() usecase.VariantRepo { return variantRepo{r} }
func (r repos) Orders() usecase.OrderRepo     { return orderRepo{r} }
func (r repos) Coupons() usecase.CouponRepo   { return couponRepo{r} }
func (r repos) Outbox() usecase.OutboxRepo    { return outboxRepo{r} }

// ---- carts ----

type cartRepo struct{ repos }

func (r cartRepo) GetCart(_ context.Context, cartID int64) (*domain.Cart, error) {
	var out *domain.Cart
	err := r.run(func(st *state) error {
		c, ok := st.carts[cartID]
		if !ok {
			return usecase.ErrNotFound
		}
		out = copyCart(c)
		return nil
	})
	return out, err
}

func (r cartRepo) GetCartByCustomer(_ context.Context, customerID string) (*domain.Cart, error) {
	var out *domain.Cart
	err := r.run(func(st *state) error {
		for _, c := range st.carts {
			if c.CustomerID == customerID {
				out = copyCart(c)
				return nil
			}
		}
		return usecase.ErrNotFound
	})
	return out, err
}

func (r cartRepo) ClearCart(_ context.Context, cartID int64) (int64, error) {
	var n int64
	err := r.run(func(st *state) error {
		c, ok := st.carts[cartID]
		if !ok {
			return nil
		}
		n = int64(len(c.Items))
		c.Items = nil
		c.UpdatedAt = time.Now()
		return nil
	})
	return n, err
}

// ---- variants ----

type variantRepo struct{ repos }

func (r variantRepo) GetVariants(_ context.Context, ids []int64) (map[int64]domain.ProductVariant, error) {
	out := make(map[int64]domain.ProductVariant, len(ids))
	err := r.run(func(st *state) error {
		for _, id := range ids {
			if v, ok := st.variants[id]; ok {
				out[id] = *v
			}
		}
		return nil
	})
	return out, err
}

func (r variantRepo) LockStock(_ context.Context, variantID int64) (int, error) {
	var stock int
	err := r.run(func(st *state) error {
		v, ok := st.variants[variantID]
		if !ok {
			return usecase.ErrNotFound
		}
		stock = v.StockQuantity
		return nil
	})
	return stock, err
}

func (r variantRepo) DecrementStock(_ context.Context, variantID int64, qty int) (bool, error) {
	var ok bool
	err := r.run(func(st *state) error {
		v, found := st.variants[variantID]
		if !found || v.StockQuantity < qty {
			return nil
		}
		v.StockQuantity -= qty
		ok = true
		return nil
	})
	return ok, err
}

func (r variantRepo) IncrementStock(_ context.Context, variantID int64, qty int) error {
	return r.run(func(st *state) error {
		v, ok := st.variants[variantID]
		if !ok {
			return usecase.ErrNotFound
		}
		v.StockQuantity += qty
		return nil
	})
}

// ---- orders ----

type orderRepo struct{ repos }

func (r orderRepo) CreateOrder(_ context.Context, o *domain.Order) error {
	return r.run(func(st *state) error {
		if _, dup := st.orders[o.Code]; dup {
			return usecase.ErrDuplicateCode
		}
		o.ID = st.nextID()
		for i := range o.Items {
			o.Items[i].ID = st.nextID()
			o.Items[i].OrderID = o.ID
		}
		st.orders[o.Code] = copyOrder(o)
		return nil
	})
}

func (r orderRepo) GetByCode(_ context.Context, code string) (*domain.Order, error) {
	var out *domain.Order
	err := r.run(func(st *state) error {
		o, ok := st.orders[code]
		if !ok {
			return usecase.ErrNotFound
		}
		out = copyOrder(o)
		return nil
	})
	return out, err
}

func (r orderRepo) LockByCode(ctx context.Context, code string) (*domain.Order, error) {
	return r.GetByCode(ctx, code)
}

func (r orderRepo) UpdateState(_ context.Context, o *domain.Order) error {
	return r.run(func(st *state) error {
		cur, ok := st.orders[o.Code]
		if !ok || cur.ID != o.ID {
			return usecase.ErrNotFound
		}
		cur.Status = o.Status
		cur.PaymentStatus = o.PaymentStatus
		cur.StockCommitted = o.StockCommitted
		cur.NeedsReconciliation = o.NeedsReconciliation
		cur.ReconcileReason = o.ReconcileReason
		cur.UpdatedAt = o.UpdatedAt
		return nil
	})
}

func (r orderRepo) CountRedemptions(_ context.Context, couponID int64) (int, error) {
	var n int
	err := r.run(func(st *state) error {
		for _, o := range st.orders {
			if o.CouponID != nil && *o.CouponID == couponID && o.Status.Redeemed() {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r orderRepo) InsertPayment(_ context.Context, p *domain.PaymentRecord) error {
	return r.run(func(st *state) error {
		p.ID = st.nextID()
		st.payments = append(st.payments, *p)
		return nil
	})
}

// ---- coupons ----

type couponRepo struct{ repos }

func (r couponRepo) GetByCode(_ context.Context, code string) (*domain.Coupon, error) {
	var out *domain.Coupon
	err := r.run(func(st *state) error {
		c, ok := st.coupons[code]
		if !ok {
			return usecase.ErrNotFound
		}
		cc := *c
		out = &cc
		return nil
	})
	return out, err
}

func (r couponRepo) LockByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return r.GetByCode(ctx, code)
}

// ---- outbox ----

type outboxRepo struct{ repos }

func (r outboxRepo) Insert(_ context.Context, ev usecase.OutboxEvent) error {
	return r.run(func(st *state) error {
		st.outbox = append(st.outbox, outboxRow{rec: usecase.OutboxRecord{
			ID:        st.nextID(),
			EventID:   ev.EventID,
			Topic:     ev.Topic,
			Key:       ev.Key,
			Payload:   append([]byte(nil), ev.Payload...),
			CreatedAt: time.Now(),
		}})
		return nil
	})
}

func (r outboxRepo) FetchPending(_ context.Context, limit int) ([]usecase.OutboxRecord, error) {
	var out []usecase.OutboxRecord
	err := r.run(func(st *state) error {
		for _, row := range st.outbox {
			if len(out) >= limit {
				break
			}
			if !row.sent {
				out = append(out, row.rec)
			}
		}
		return nil
	})
	return out, err
}

func (r outboxRepo) MarkSent(_ context.Context, id int64) error {
	return r.run(func(st *state) error {
		for i := range st.outbox {
			if st.outbox[i].rec.ID == id {
				st.outbox[i].sent = true
				return nil
			}
		}
		return usecase.ErrNotFound
	})
}

// ---- seeding and inspection ----

// AddVariant inserts or replaces a variant.
func (s *Store) AddVariant(v domain.ProductVariant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.variants[v.ID] = &v
	if v.ID > s.st.seq {
		s.st.seq = v.ID
	}
}

func (s *Store) AddCoupon(c domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.st.nextID()
	}
	s.st.coupons[c.Code] = &c
}

// AddCart stores a cart, assigning IDs where missing, and returns its ID.
func (s *Store) AddCart(c domain.Cart) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.st.nextID()
	}
	for i := range c.Items {
		if c.Items[i].ID == 0 {
			c.Items[i].ID = s.st.nextID()
		}
		c.Items[i].CartID = c.ID
	}
	s.st.carts[c.ID] = copyCart(&c)
	return c.ID
}

func (s *Store) Variant(id int64) (domain.ProductVariant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.variants[id]
	if !ok {
		return domain.ProductVariant{}, false
	}
	return *v, true
}

// AllOrders returns copies of every order, oldest first.
func (s *Store) AllOrders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.st.orders))
	for _, o := range s.st.orders {
		out = append(out, *copyOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Payments(orderID int64) []domain.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PaymentRecord
	for _, p := range s.st.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out
}

// Events returns every outbox record in insertion order, sent or not.
func (s *Store) Events() []usecase.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]usecase.OutboxRecord, 0, len(s.st.outbox))
	for _, row := range s.st.outbox {
		out = append(out, row.rec)
	}
	return out
}

func copyCart(c *domain.Cart) *domain.Cart {
	cc := *c
	cc.Items = append([]domain.CartItem(nil), c.Items...)
	return &cc
}

func copyOrder(o *domain.Order) *domain.Order {
	oo := *o
	oo.Items = append([]domain.OrderItem(nil), o.Items...)
	return &oo
}

var _ usecase.Store = (*Store)(nil)
