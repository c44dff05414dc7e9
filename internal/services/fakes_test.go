package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/storefrontapp/storefront/internal/cache"
	"github.com/storefrontapp/storefront/internal/catalog"
	"github.com/storefrontapp/storefront/internal/db"
	"github.com/storefrontapp/storefront/internal/gateway"
	"github.com/storefrontapp/storefront/internal/models"
	"github.com/storefrontapp/storefront/internal/pending"
)

type fakeLedger struct {
	mu           sync.Mutex
	orders       map[uuid.UUID]models.Order
	byRef        map[string]uuid.UUID
	transactions map[uuid.UUID][]models.Transaction
	createErr    error
	observations int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		orders:       make(map[uuid.UUID]models.Order),
		byRef:        make(map[string]uuid.UUID),
		transactions: make(map[uuid.UUID][]models.Transaction),
	}
}

func (l *fakeLedger) GetByID(_ context.Context, orderID uuid.UUID) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[orderID]
	if !ok {
		return nil, db.ErrOrderNotFound
	}
	return &order, nil
}

func (l *fakeLedger) GetByPaymentReference(_ context.Context, orderRef string) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byRef[orderRef]
	if !ok {
		return nil, db.ErrOrderNotFound
	}
	order := l.orders[id]
	return &order, nil
}

func (l *fakeLedger) CreateCashOrder(_ context.Context, order *models.Order) (*models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order.CreatedAt = time.Now()
	l.orders[order.ID] = *order
	txn := models.Transaction{
		ID:      uuid.New(),
		UserID:  order.UserID,
		OrderID: order.ID,
		Amount:  order.TotalPrice,
		Method:  order.Payment.Method,
		Status:  models.TransactionPending,
	}
	l.transactions[order.ID] = append(l.transactions[order.ID], txn)
	return &txn, nil
}

func (l *fakeLedger) CreatePaidOrder(_ context.Context, order *models.Order, txn *models.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.createErr != nil {
		err := l.createErr
		l.createErr = nil
		return err
	}
	if _, ok := l.byRef[order.Payment.TransactionID]; ok {
		return db.ErrDuplicatePaymentReference
	}
	order.CreatedAt = time.Now()
	l.orders[order.ID] = *order
	l.byRef[order.Payment.TransactionID] = order.ID
	txn.OrderID = order.ID
	l.transactions[order.ID] = append(l.transactions[order.ID], *txn)
	return nil
}

func (l *fakeLedger) UpdatePaymentObservation(_ context.Context, orderID uuid.UUID, next models.PaymentStatus, response json.RawMessage) (models.PaymentStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[orderID]
	if !ok {
		return "", db.ErrOrderNotFound
	}
	l.observations++
	if order.Payment.Status.CanAdvanceTo(next) {
		order.Payment.Status = next
	}
	if len(response) > 0 {
		order.Payment.ResponseData = response
	}
	l.orders[orderID] = order
	return order.Payment.Status, nil
}

func (l *fakeLedger) UpdateStatus(_ context.Context, orderID uuid.UUID, update db.StatusUpdate) (*models.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[orderID]
	if !ok {
		return nil, db.ErrOrderNotFound
	}
	if !models.CanTransition(order.Status, update.Status) {
		return nil, fmt.Errorf("%w: %s to %s", db.ErrInvalidStatusTransition, order.Status, update.Status)
	}
	switch update.Status {
	case models.StatusShipped:
		order.TrackingNumber = update.TrackingNumber
		order.TrackingURL = update.TrackingURL
		order.Carrier = update.Carrier
	case models.StatusCancelled:
		if order.Payment.Status == models.PaymentCompleted {
			order.Payment.Status = models.PaymentRefunded
		}
	case models.StatusDelivered:
		if order.Payment.Method == models.MethodCashOnDelivery && order.Payment.Status == models.PaymentPending {
			order.Payment.Status = models.PaymentCompleted
		}
	}
	order.Status = update.Status
	l.orders[orderID] = order
	return &order, nil
}

func (l *fakeLedger) ListByOrder(_ context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Transaction(nil), l.transactions[orderID]...), nil
}

func (l *fakeLedger) ListByUser(_ context.Context, userID string, limit int) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var txns []models.Transaction
	for _, orderTxns := range l.transactions {
		for _, txn := range orderTxns {
			if txn.UserID == userID && len(txns) < limit {
				txns = append(txns, txn)
			}
		}
	}
	return txns, nil
}

func (l *fakeLedger) observationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.observations
}

func (l *fakeLedger) countByRef(orderRef string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, order := range l.orders {
		if order.Payment.TransactionID == orderRef {
			count++
		}
	}
	return count
}

func (l *fakeLedger) successfulTransactions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := 0
	for _, txns := range l.transactions {
		for _, txn := range txns {
			if txn.Status == models.TransactionSuccess {
				count++
			}
		}
	}
	return count
}

type fakeGateway struct {
	mu          sync.Mutex
	states      map[string]gateway.State
	amounts     map[string]int64
	createErr   error
	queryErr    error
	createCalls int
	queryCalls  int
	lastRequest gateway.SessionRequest
	// sessionExpiry is reported back on every created session when set.
	sessionExpiry time.Time
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		states:  make(map[string]gateway.State),
		amounts: make(map[string]int64),
	}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) SignatureHeader() string { return "X-Fake-Signature" }

func (g *fakeGateway) CreateSession(_ context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.lastRequest = req
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.states[req.OrderRef] = gateway.StatePending
	g.amounts[req.OrderRef] = req.AmountMinor
	return &gateway.Session{
		SessionRef:  "sess_" + req.OrderRef,
		RedirectURL: "https://pay.example.com/checkout/" + req.OrderRef,
		ExpiresAt:   g.sessionExpiry,
	}, nil
}

func (g *fakeGateway) QuerySessionStatus(_ context.Context, orderRef string) (*gateway.Status, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryCalls++
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	state, ok := g.states[orderRef]
	if !ok {
		state = gateway.StatePending
	}
	return &gateway.Status{
		OrderRef:             orderRef,
		State:                state,
		AmountMinor:          g.amounts[orderRef],
		GatewayTransactionID: "T" + orderRef,
		Raw:                  json.RawMessage(`{"state":"` + string(state) + `"}`),
	}, nil
}

func (g *fakeGateway) ParseNotification([]byte, string) (*gateway.Notification, error) {
	return nil, gateway.ErrIgnoredEvent
}

func (g *fakeGateway) setState(orderRef string, state gateway.State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[orderRef] = state
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *recordingNotifier) record(event string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) OrderConfirmed(context.Context, *models.Order) error {
	return n.record("confirmed")
}

func (n *recordingNotifier) OrderShipped(context.Context, *models.Order) error {
	return n.record("shipped")
}

func (n *recordingNotifier) OrderDelivered(context.Context, *models.Order) error {
	return n.record("delivered")
}

func (n *recordingNotifier) OrderCancelled(context.Context, *models.Order) error {
	return n.record("cancelled")
}

func (n *recordingNotifier) snapshot() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type recordingOrphans struct {
	mu      sync.Mutex
	records []models.OrphanedNotification
	alerts  int
}

func (o *recordingOrphans) Record(_ context.Context, orphan *models.OrphanedNotification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	orphan.ID = int64(len(o.records) + 1)
	o.records = append(o.records, *orphan)
	return nil
}

func (o *recordingOrphans) ListByOrderRef(_ context.Context, orderRef string) ([]models.OrphanedNotification, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var matches []models.OrphanedNotification
	for _, record := range o.records {
		if record.OrderRef == orderRef {
			matches = append(matches, record)
		}
	}
	return matches, nil
}

func (o *recordingOrphans) ReportOrphan(context.Context, *models.OrphanedNotification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.alerts++
	return nil
}

func (o *recordingOrphans) counts() (records, alerts int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.records), o.alerts
}

type reconcilerFixture struct {
	reconciler *Reconciler
	ledger     *fakeLedger
	gateway    *fakeGateway
	pending    *pending.MemoryStore
	markers    *cache.MemoryProvider
	notifier   *recordingNotifier
	orphans    *recordingOrphans
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()

	store, err := pending.NewMemoryStore(128)
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	markers, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("NewMemoryProvider() error = %v", err)
	}
	methods, err := catalog.LoadMethods("")
	if err != nil {
		t.Fatalf("LoadMethods() error = %v", err)
	}

	f := &reconcilerFixture{
		ledger:   newFakeLedger(),
		gateway:  newFakeGateway(),
		pending:  store,
		markers:  markers,
		notifier: &recordingNotifier{},
		orphans:  &recordingOrphans{},
	}
	f.reconciler = f.newReconciler(t, methods)
	return f
}

// newReconciler builds another reconciler over the fixture's shared state, as
// a second server process would see it.
func (f *reconcilerFixture) newReconciler(t *testing.T, methods *catalog.Methods) *Reconciler {
	t.Helper()

	r, err := NewReconciler(ReconcilerDeps{
		Ledger:       f.ledger,
		Transactions: f.ledger,
		Orphans:      f.orphans,
		Pending:      f.pending,
		Gateway:      f.gateway,
		Markers:      f.markers,
		Notifier:     f.notifier,
		Alerter:      f.orphans,
		Methods:      methods,
	}, ReconcilerConfig{
		PublicBaseURL: "https://shop.example.com/",
		PendingTTL:    time.Minute,
		NotifyTimeout: time.Second,
		OrphanGrace:   20 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	return r
}
