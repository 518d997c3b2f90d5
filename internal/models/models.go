package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Vehicle represents a purchasable vehicle variant in the catalog
type Vehicle struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	Price     int64     `db:"price" json:"price"`
	SalePrice int64     `db:"sale_price" json:"sale_price"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order represents a customer order for a vehicle
type Order struct {
	ID               int64           `db:"id" json:"id"`
	OrderCode        string          `db:"order_code" json:"order_code"`
	VehicleID        int64           `db:"vehicle_id" json:"vehicle_id"`
	Statuses         OrderStatus     `db:"statuses" json:"statuses"`
	PaymentMethod    PaymentMethod   `db:"payment_method" json:"payment_method"`
	PaymentStatus    PaymentStatus   `db:"payment_status" json:"payment_status"`
	BasePrice        int64           `db:"base_price" json:"base_price"`
	Discount         int64           `db:"discount" json:"discount"`
	Fees             int64           `db:"fees" json:"fees"`
	TotalAmount      int64           `db:"total_amount" json:"total_amount"`
	DepositAmount    int64           `db:"deposit_amount" json:"deposit_amount"`
	RemainingAmount  int64           `db:"remaining_amount" json:"remaining_amount"`
	PaidAmount       int64           `db:"paid_amount" json:"paid_amount"`
	CustomerInfo     CustomerInfo    `db:"customer_info" json:"customer_info"`
	SelectedShowroom string          `db:"selected_showroom" json:"selected_showroom,omitempty"`
	SelectedColor    string          `db:"selected_color" json:"selected_color,omitempty"`
	AppointmentDate  *time.Time      `db:"appointment_date" json:"appointment_date,omitempty"`
	TrackingHistory  TrackingHistory `db:"tracking_history" json:"tracking_history"`
	NeedsReview      bool            `db:"needs_review" json:"needs_review"`
	AppliedPayments  StringList      `db:"applied_payments" json:"-"`
	Version          int64           `db:"version" json:"-"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// AmountDue returns what still has to be paid on the order.
// A deposit order with nothing paid yet is charged the deposit first.
func (o *Order) AmountDue() int64 {
	if o.PaidAmount == 0 && o.DepositAmount > 0 &&
		(o.PaymentMethod == PaymentMethodDeposit || o.PaymentMethod == PaymentMethodInstallment) {
		return o.DepositAmount
	}
	due := o.TotalAmount - o.PaidAmount
	if due < 0 {
		return 0
	}
	return due
}

// Applied reports whether the transaction has already been booked on the order
func (o *Order) Applied(transactionID string) bool {
	for _, id := range o.AppliedPayments {
		if id == transactionID {
			return true
		}
	}
	return false
}

// CustomerInfo is the customer snapshot taken at checkout. It is never updated.
type CustomerInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// Value implements driver.Valuer
func (c CustomerInfo) Value() (driver.Value, error) {
	return jsonValue(c)
}

// Scan implements sql.Scanner
func (c *CustomerInfo) Scan(src interface{}) error {
	return scanJSON(src, c)
}

// TrackingEntry is one line of an order's tracking history
type TrackingEntry struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note"`
}

// TrackingHistory is append-only
type TrackingHistory []TrackingEntry

// Value implements driver.Valuer
func (h TrackingHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	return jsonValue(h)
}

// Scan implements sql.Scanner
func (h *TrackingHistory) Scan(src interface{}) error {
	return scanJSON(src, h)
}

// StringList is a JSONB column holding an array of strings
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// PaymentTransaction is one attempt at paying all or part of an order through one gateway
type PaymentTransaction struct {
	ID              int64             `db:"id" json:"id"`
	OrderID         int64             `db:"order_id" json:"order_id"`
	TransactionID   string            `db:"transaction_id" json:"transaction_id"`
	Gateway         Gateway           `db:"gateway" json:"gateway"`
	Amount          int64             `db:"amount" json:"amount"`
	Status          TransactionStatus `db:"status" json:"status"`
	GatewayRef      string            `db:"gateway_ref" json:"gateway_ref,omitempty"`
	GatewayResponse JSONMap           `db:"gateway_response" json:"-"`
	Metadata        JSONMap           `db:"metadata" json:"metadata,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// JSONMap is a JSONB column holding an object
type JSONMap map[string]interface{}

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return jsonValue(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// String returns the value stored under key as a string, or "" when absent
func (m JSONMap) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

// jsonValue returns text rather than []byte so lib/pq does not send it as bytea
func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
