package types

import (
	"time"
)

// BracketRequestStatus is the processing state of a queued bracket
// placement.
type BracketRequestStatus string

const (
	BracketStatusPending    BracketRequestStatus = "pending"
	BracketStatusProcessing BracketRequestStatus = "processing"
	BracketStatusProcessed  BracketRequestStatus = "processed"
	BracketStatusFailed     BracketRequestStatus = "failed"
	BracketStatusExpired    BracketRequestStatus = "expired"
)

// DefaultBracketTTL bounds how long an unclaimed bracket request stays
// placeable. A request older than this protects nothing and must not be
// acted on.
const DefaultBracketTTL = 15 * time.Minute

// BracketRequest queues the protective stop-loss + target pair for a
// filled entry. Requests are claimed with a conditional pending→processing
// write so two workers can never place the same bracket twice, and they
// expire lazily: a request past its deadline is marked expired on the next
// claim attempt instead of being processed.
type BracketRequest struct {
	ID            string               `json:"id" db:"id"`
	PickID        uint64               `json:"pickID" db:"pick_id"`
	EntryOrderID  string               `json:"entryOrderID" db:"entry_order_id"`
	Symbol        string               `json:"symbol" db:"symbol"`
	InstrumentKey string               `json:"instrumentKey" db:"instrument_key"`
	Direction     Direction            `json:"direction" db:"direction"`
	Quantity      int64                `json:"quantity" db:"quantity"`
	StopLoss      float64              `json:"stopLoss" db:"stop_loss"`
	Target        float64              `json:"target" db:"target"`
	Status        BracketRequestStatus `json:"status" db:"status"`

	// EncCredential is the sealed broker credential blob attached by the
	// API layer. The engine never decrypts it; it is handed back to the
	// broker collaborator verbatim.
	EncCredential string `json:"-" db:"enc_credential"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ExpiredAt reports whether the request is past its placement deadline.
func (r *BracketRequest) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
