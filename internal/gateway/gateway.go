// Package gateway holds one adapter per payment provider behind a common interface.
//
// An adapter never writes to the store. The checkout service calls Prepare to
// obtain a correlation id, persists the pending PaymentTransaction, and only
// then calls Initiate, so a callback racing the redirect can always be matched.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"evshop-payment/internal/models"
)

var (
	// ErrManualVerification is returned by adapters whose callbacks are decided by an admin
	ErrManualVerification = errors.New("gateway requires manual verification")
	ErrUnknownGateway     = errors.New("unknown gateway")
)

// URLs are the browser and server endpoints handed to the provider
type URLs struct {
	ReturnURL string
	CancelURL string
	NotifyURL string
	ClientIP  string
}

// Attempt is the correlation data for a payment attempt, known before the provider is called
type Attempt struct {
	CorrelationID string
	Metadata      models.JSONMap
}

// Intent is what the client needs to complete a payment at the provider
type Intent struct {
	CorrelationID string                 `json:"correlation_id"`
	RedirectURL   string                 `json:"redirect_url,omitempty"`
	QRPayload     string                 `json:"qr_payload,omitempty"`
	GatewayRef    string                 `json:"gateway_ref,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
	Metadata      models.JSONMap         `json:"-"`
}

// Callback is a raw notification: browser return (Query) or server webhook (Body).
// Transaction is set when the caller already resolved the attempt, which the
// capture-style gateways need.
type Callback struct {
	Query       url.Values
	Body        []byte
	Transaction *models.PaymentTransaction
}

// Verification is an adapter's verdict on a callback
type Verification struct {
	Gateway       models.Gateway
	Valid         bool
	Pending       bool
	CorrelationID string
	Success       bool
	Amount        int64
	Inexact       bool // reported amount had a fractional VND part
	ResponseCode  string
	GatewayRef    string
	Reason        string
	Raw           models.JSONMap
}

// Adapter is implemented by every payment provider
type Adapter interface {
	Gateway() models.Gateway
	Prepare(order *models.Order, amount int64) (*Attempt, error)
	Initiate(ctx context.Context, order *models.Order, txn *models.PaymentTransaction, urls URLs) (*Intent, error)
	VerifyCallback(ctx context.Context, cb Callback) (*Verification, error)
}

// Registry looks adapters up by gateway
type Registry struct {
	adapters map[models.Gateway]Adapter
}

// NewRegistry creates a registry from adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Gateway]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Gateway()] = a
	}
	return r
}

// Get returns the adapter for g
func (r *Registry) Get(g models.Gateway) (Adapter, error) {
	a, ok := r.adapters[g]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownGateway, g)
	}
	return a, nil
}

// Clock is swapped in tests
type Clock func() time.Time

// ict is Vietnam time, used in provider timestamps. A fixed zone avoids depending on tzdata.
var ict = time.FixedZone("ICT", 7*60*60)

func requireConfig(g models.Gateway, fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &models.GatewayConfigError{Gateway: g, Missing: missing}
	}
	return nil
}

func rawFromValues(v url.Values) models.JSONMap {
	raw := models.JSONMap{}
	for k := range v {
		raw[k] = v.Get(k)
	}
	return raw
}
