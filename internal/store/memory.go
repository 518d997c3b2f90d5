package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"evshop-payment/internal/models"
)

// MemoryStore is an in-process store with the same semantics as Store,
// including the conditional settle and the order version check.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	vehicles map[int64]models.Vehicle
	orders   map[int64]models.Order
	txns     map[string]models.PaymentTransaction
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vehicles: make(map[int64]models.Vehicle),
		orders:   make(map[int64]models.Order),
		txns:     make(map[string]models.PaymentTransaction),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// PutVehicle seeds the catalog
func (m *MemoryStore) PutVehicle(v models.Vehicle) models.Vehicle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == 0 {
		v.ID = m.id()
	}
	m.vehicles[v.ID] = v
	return v
}

func (m *MemoryStore) GetVehicleByID(_ context.Context, id int64) (*models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok || !v.Active {
		return nil, models.ErrVehicleNotFound
	}
	return &v, nil
}

func (m *MemoryStore) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderCode == order.OrderCode {
			return fmt.Errorf("%w: orders_order_code_key", models.ErrDuplicateKey)
		}
	}
	now := time.Now()
	order.ID = m.id()
	order.Version = 1
	order.CreatedAt = now
	order.UpdatedAt = now
	m.orders[order.ID] = copyOrder(*order)
	return nil
}

func (m *MemoryStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, &models.OrderNotFoundError{Ref: fmt.Sprint(id)}
	}
	o = copyOrder(o)
	return &o, nil
}

func (m *MemoryStore) GetOrderByCode(_ context.Context, code string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.OrderCode == code {
			o = copyOrder(o)
			return &o, nil
		}
	}
	return nil, &models.OrderNotFoundError{Ref: code}
}

func (m *MemoryStore) ListOrdersByPhone(_ context.Context, phone string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.CustomerInfo.Phone == phone {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListStaleOrders(_ context.Context, status models.OrderStatus, before time.Time, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Statuses == status && o.CreatedAt.Before(before) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[order.ID]
	if !ok || cur.Version != order.Version {
		return models.ErrVersionConflict
	}
	cur.Statuses = order.Statuses
	cur.PaymentStatus = order.PaymentStatus
	cur.PaidAmount = order.PaidAmount
	cur.TrackingHistory = append(models.TrackingHistory(nil), order.TrackingHistory...)
	cur.NeedsReview = order.NeedsReview
	cur.AppliedPayments = append(models.StringList(nil), order.AppliedPayments...)
	cur.Version++
	cur.UpdatedAt = time.Now()
	m.orders[order.ID] = cur

	order.Version = cur.Version
	order.UpdatedAt = cur.UpdatedAt
	return nil
}

// Backdate moves an order's creation time, used to exercise expiry
func (m *MemoryStore) Backdate(orderID int64, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		o.CreatedAt = createdAt
		m.orders[orderID] = o
	}
}

func (m *MemoryStore) CreateTransaction(_ context.Context, txn *models.PaymentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.txns[txn.TransactionID]; exists {
		return fmt.Errorf("%w: payment_transactions_transaction_id_key", models.ErrDuplicateKey)
	}
	now := time.Now()
	txn.ID = m.id()
	txn.CreatedAt = now
	txn.UpdatedAt = now
	m.txns[txn.TransactionID] = copyTxn(*txn)
	return nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, transactionID string) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[transactionID]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	t = copyTxn(t)
	return &t, nil
}

func (m *MemoryStore) GetTransactionByGatewayRef(_ context.Context, gateway models.Gateway, ref string) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.txns {
		if t.Gateway == gateway && t.GatewayRef == ref && ref != "" {
			t = copyTxn(t)
			return &t, nil
		}
	}
	return nil, models.ErrTransactionNotFound
}

func (m *MemoryStore) ListTransactionsByOrder(_ context.Context, orderID int64) ([]models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentTransaction
	for _, t := range m.txns {
		if t.OrderID == orderID {
			out = append(out, copyTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) AttachGatewayRef(_ context.Context, transactionID, ref string, metadata models.JSONMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[transactionID]
	if !ok || t.Status.Terminal() {
		return nil
	}
	t.GatewayRef = ref
	t.Metadata = mergeMeta(t.Metadata, metadata)
	t.UpdatedAt = time.Now()
	m.txns[transactionID] = t
	return nil
}

func (m *MemoryStore) SettleTransaction(
	_ context.Context,
	transactionID string,
	from []models.TransactionStatus,
	to models.TransactionStatus,
	response models.JSONMap,
	metadata models.JSONMap,
) (*models.PaymentTransaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[transactionID]
	if !ok {
		return nil, false, models.ErrTransactionNotFound
	}
	allowed := false
	for _, st := range from {
		if t.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		t = copyTxn(t)
		return &t, false, nil
	}
	t.Status = to
	t.GatewayResponse = response
	t.Metadata = mergeMeta(t.Metadata, metadata)
	t.UpdatedAt = time.Now()
	m.txns[transactionID] = t
	t = copyTxn(t)
	return &t, true, nil
}

func copyOrder(o models.Order) models.Order {
	o.TrackingHistory = append(models.TrackingHistory(nil), o.TrackingHistory...)
	o.AppliedPayments = append(models.StringList(nil), o.AppliedPayments...)
	return o
}

func copyTxn(t models.PaymentTransaction) models.PaymentTransaction {
	t.Metadata = mergeMeta(nil, t.Metadata)
	t.GatewayResponse = mergeMeta(nil, t.GatewayResponse)
	return t
}

func mergeMeta(dst, src models.JSONMap) models.JSONMap {
	out := models.JSONMap{}
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
