// Package ledger is the in-memory bookkeeping for STK push attempts. It maps
// the CheckoutRequestID issued by Daraja at initiation to a transaction record,
// so the asynchronous result callback and client status polls can be reconciled
// against it. Records live for the lifetime of the process; nothing is
// persisted. For production this should be swapped for a durable store behind
// the same three operations.
package ledger

import (
	"encoding/json"
	"sync"
	"time"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Transaction is one payment attempt, keyed by the gateway's CheckoutRequestID.
type Transaction struct {
	CheckoutRequestID string          `json:"checkoutRequestId"`
	Status            Status          `json:"status"`
	BookingID         string          `json:"bookingId"`
	Phone             string          `json:"phone"`
	Amount            float64         `json:"amount"`
	Receipt           *string         `json:"receipt"` // nullable, set on SUCCESS only
	ResultCode        *int            `json:"resultCode"`
	ResultDesc        *string         `json:"resultDesc"`
	RawInitiation     json.RawMessage `json:"rawInitiation,omitempty"`
	RawCallback       json.RawMessage `json:"rawCallback,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// CallbackResult carries the fields extracted from a Daraja result callback.
// Receipt, Amount and Phone are nil when the gateway did not report them
// (failed payments carry no CallbackMetadata).
type CallbackResult struct {
	ResultCode int
	ResultDesc string
	Receipt    *string
	Amount     *float64
	Phone      *string
	Raw        json.RawMessage
}

// Ledger guards the shared transaction map. All three HTTP paths (initiate,
// callback, status poll) may hit the same key concurrently.
type Ledger struct {
	mu  sync.RWMutex
	txs map[string]*Transaction

	ttl  time.Duration
	done chan struct{}
}

// New returns a ledger. A ttl of zero disables eviction entirely (every record
// lives until the process exits); a positive ttl starts a background sweep that
// drops records not updated within ttl.
func New(ttl time.Duration) *Ledger {
	l := &Ledger{
		txs:  make(map[string]*Transaction),
		ttl:  ttl,
		done: make(chan struct{}),
	}
	if ttl > 0 {
		go l.sweep()
	}
	return l
}

func (l *Ledger) sweep() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-l.ttl)
			l.mu.Lock()
			for id, tx := range l.txs {
				if tx.UpdatedAt.Before(cutoff) {
					delete(l.txs, id)
				}
			}
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// Close stops the eviction sweep, if one is running.
func (l *Ledger) Close() {
	close(l.done)
}

// Insert stores a new PENDING record under the gateway-issued id. An existing
// record under the same id is silently replaced; Daraja ids are unique per
// attempt so a collision is not expected.
func (l *Ledger) Insert(checkoutRequestID string, tx Transaction) {
	now := time.Now()
	tx.CheckoutRequestID = checkoutRequestID
	tx.Status = StatusPending
	tx.CreatedAt = now
	tx.UpdatedAt = now

	l.mu.Lock()
	l.txs[checkoutRequestID] = &tx
	l.mu.Unlock()
}

// ApplyCallbackResult reconciles a gateway result callback with the record it
// belongs to. A callback for an id we never issued is dropped: the record's
// existence is the only thing a callback can observe, and the gateway retries
// unacknowledged callbacks so there is nothing useful to queue. ResultCode 0
// means SUCCESS, anything else FAILED. Reported receipt/amount/phone overwrite
// the stored values only when present. Duplicate callbacks are last-write-wins;
// a terminal state is deliberately not protected against overwrites.
func (l *Ledger) ApplyCallbackResult(checkoutRequestID string, res CallbackResult) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.txs[checkoutRequestID]
	if !ok {
		return false
	}

	if res.ResultCode == 0 {
		tx.Status = StatusSuccess
	} else {
		tx.Status = StatusFailed
	}

	code := res.ResultCode
	desc := res.ResultDesc
	tx.ResultCode = &code
	tx.ResultDesc = &desc

	if res.Receipt != nil {
		tx.Receipt = res.Receipt
	}
	if res.Amount != nil {
		tx.Amount = *res.Amount
	}
	if res.Phone != nil {
		tx.Phone = *res.Phone
	}
	tx.RawCallback = res.Raw
	tx.UpdatedAt = time.Now()

	return true
}

// Get returns a copy of the record, so callers never hold a reference into the
// map past this call.
func (l *Ledger) Get(checkoutRequestID string) (Transaction, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tx, ok := l.txs[checkoutRequestID]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

// Len reports the number of live records. Published as an expvar gauge.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.txs)
}
