package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lumina-order-service/internal/lifecycle"
	"lumina-order-service/internal/models"
	"lumina-order-service/internal/store"

	"github.com/google/uuid"
)

// fakeStore is an in-memory Store with the same guard semantics as the SQL
// implementation: guarded writes return store.ErrStaleStatus when the source
// set does not match and store.ErrNotFound for missing rows.
type fakeStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	orders    map[string]*models.Order
	processed map[string][]byte
	seq       int

	// beforeSetContent runs inside SetOrderContent before the guard check,
	// used to simulate a concurrent transition.
	beforeSetContent func()

	// injected failures
	setContentErr error
	createErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]*models.User),
		orders:    make(map[string]*models.Order),
		processed: make(map[string][]byte),
	}
}

func (f *fakeStore) addUser(email, name string) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &models.User{ID: uuid.New().String(), Email: email, Name: name, CreatedAt: time.Now()}
	f.users[u.ID] = u
	return u
}

func (f *fakeStore) addOrder(userID string, status lifecycle.Status) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	o := &models.Order{
		ID:           uuid.New().String(),
		OrderNumber:  store.FormatOrderNumber(store.DayPrefix(time.Now()), f.seq),
		UserID:       userID,
		Status:       status,
		Amount:       4900,
		Currency:     "EUR",
		ServiceLevel: 2,
		CreatedAt:    time.Now(),
	}
	f.orders[o.ID] = o
	return o
}

func (f *fakeStore) order(id string) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[id]
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}

func (f *fakeStore) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) GetOrderByPaymentRef(_ context.Context, ref string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.PaymentRef == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("payment ref %s: %w", ref, store.ErrNotFound)
}

func (f *fakeStore) GetOrdersByUserID(_ context.Context, userID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateOrder(_ context.Context, order *models.Order) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *order
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.orders[cp.ID] = &cp
	return nil
}

func (f *fakeStore) NextOrderNumber(_ context.Context, now time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return store.FormatOrderNumber(store.DayPrefix(now), f.seq), nil
}

func (f *fakeStore) guarded(id string, from []lifecycle.Status, mutate func(*models.Order)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	if !statusIn(o.Status, from) {
		return fmt.Errorf("order %s is %s: %w", id, o.Status, store.ErrStaleStatus)
	}
	mutate(o)
	o.UpdatedAt = time.Now()
	return nil
}

func (f *fakeStore) UpdateOrderStatus(_ context.Context, orderID string, from []lifecycle.Status, to lifecycle.Status) error {
	return f.guarded(orderID, from, func(o *models.Order) {
		o.Status = to
	})
}

func (f *fakeStore) MarkOrderPaid(_ context.Context, orderID, paymentRef string, paidAt time.Time) error {
	return f.guarded(orderID, lifecycle.SourcesPayment, func(o *models.Order) {
		o.Status = lifecycle.StatusPaid
		o.PaymentRef = paymentRef
		o.PaidAt = &paidAt
	})
}

func (f *fakeStore) SetOrderContent(_ context.Context, orderID string, content *models.GeneratedContent, from []lifecycle.Status, to lifecycle.Status) error {
	if f.beforeSetContent != nil {
		f.beforeSetContent()
	}
	if f.setContentErr != nil {
		return f.setContentErr
	}
	return f.guarded(orderID, from, func(o *models.Order) {
		o.Status = to
		o.GeneratedContent = content
		o.ErrorLog = ""
	})
}

func (f *fakeStore) FailOrder(_ context.Context, orderID, errorLog string) error {
	return f.guarded(orderID, lifecycle.SourcesFailure, func(o *models.Order) {
		o.Status = lifecycle.StatusFailed
		o.ErrorLog = errorLog
	})
}

func (f *fakeStore) ClearOrderForRevision(_ context.Context, orderID string, from []lifecycle.Status) error {
	return f.guarded(orderID, from, func(o *models.Order) {
		o.Status = lifecycle.StatusProcessing
		o.GeneratedContent = nil
		o.ErrorLog = ""
		o.Revision++
	})
}

func (f *fakeStore) CompleteOrder(_ context.Context, orderID string, deliveredAt time.Time) error {
	return f.guarded(orderID, lifecycle.SourcesValidation, func(o *models.Order) {
		o.Status = lifecycle.StatusCompleted
		o.DeliveredAt = &deliveredAt
	})
}

func (f *fakeStore) PurgeOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[orderID]; !ok {
		return fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	delete(f.orders, orderID)
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) UpsertUserByEmail(_ context.Context, email, name string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			if name != "" {
				u.Name = name
			}
			cp := *u
			return &cp, nil
		}
	}
	u := &models.User{ID: uuid.New().String(), Email: email, Name: name, CreatedAt: time.Now()}
	f.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (f *fakeStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.processed[eventID]
	return ok, nil
}

func (f *fakeStore) MarkEventProcessed(_ context.Context, eventID, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.processed[eventID]; !ok {
		f.processed[eventID] = payload
	}
	return nil
}

// fakeDispatcher records dispatch calls.
type fakeDispatcher struct {
	mu         sync.Mutex
	configured bool
	err        error
	calls      []DispatchOptions
	orders     []string
}

func (d *fakeDispatcher) Configured() bool { return d.configured }

func (d *fakeDispatcher) Dispatch(_ context.Context, order *models.Order, _ *models.User, opts DispatchOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, opts)
	d.orders = append(d.orders, order.ID)
	return d.err
}

// fakeModel returns a canned generation result.
type fakeModel struct {
	result *models.GenerationResult
	err    error
	calls  int
}

func (m *fakeModel) Generate(_ context.Context, _ models.ClientProfile, _ *models.Order) (*models.GenerationResult, error) {
	m.calls++
	return m.result, m.err
}

// fakeRenderer returns fixed bytes.
type fakeRenderer struct {
	err error
}

func (r *fakeRenderer) Render(_ context.Context, _ string, data *models.ReadingDocument) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return []byte("<html>" + data.Archetype + "</html>"), nil
}

// fakeArtifacts records uploads.
type fakeArtifacts struct {
	err     error
	uploads []string
}

func (a *fakeArtifacts) Upload(_ context.Context, _ string, key, _ string, _ []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.uploads = append(a.uploads, key)
	return "https://files.example.test/" + key, nil
}

type sentNotification struct {
	To       string
	Template string
	Payload  map[string]string
}

// fakeNotifier records sent notifications.
type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	sends []sentNotification
}

func (n *fakeNotifier) Send(_ context.Context, to, template string, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sends = append(n.sends, sentNotification{To: to, Template: template, Payload: payload})
	return n.err
}

func (n *fakeNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sends))
	for _, s := range n.sends {
		out = append(out, s.Template)
	}
	return out
}

// fakePublisher records published lifecycle event types.
type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) record(event string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *fakePublisher) PublishOrderPaid(_ context.Context, _ *models.Order) error {
	return p.record(models.EventTypeOrderPaid)
}

func (p *fakePublisher) PublishOrderGenerated(_ context.Context, _ *models.Order) error {
	return p.record(models.EventTypeOrderGenerated)
}

func (p *fakePublisher) PublishOrderFailed(_ context.Context, _ *models.Order, _ string) error {
	return p.record(models.EventTypeOrderFailed)
}

func (p *fakePublisher) PublishOrderCompleted(_ context.Context, _ *models.Order) error {
	return p.record(models.EventTypeOrderCompleted)
}

// fakeLocker simulates the best-effort lease.
type fakeLocker struct {
	denied bool
	err    error
}

func (l *fakeLocker) AcquireLock(_ context.Context, _ string, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	return !l.denied, nil
}

func (l *fakeLocker) ReleaseLock(_ context.Context, _ string) error { return nil }

var errBoom = errors.New("boom")
