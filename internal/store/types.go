package store

import (
	"encoding/json"

	"github.com/shoeboxhq/shoebox-go/internal/entity"
)

// Receipt is a stored purchase receipt. Timestamps are Unix nanoseconds.
type Receipt struct {
	ID          string
	Vendor      string
	TotalCents  int64
	Currency    string
	PurchasedAt int64
	Note        string
	Synced      bool
	CreatedAt   int64
	UpdatedAt   int64
}

// Device is a stored device registration with its warranty window.
type Device struct {
	ID             string
	Name           string
	Brand          string
	Model          string
	SerialNumber   string
	ReceiptID      string
	WarrantyMonths int64
	PurchasedAt    int64
	Synced         bool
	CreatedAt      int64
	UpdatedAt      int64
}

// Document is stored document metadata. ContentPath points at the staged
// local file awaiting upload; it is empty once content has drained.
type Document struct {
	ID          string
	OwnerKind   string
	OwnerID     string
	Name        string
	ContentType string
	Size        int64
	SHA256      string
	ContentPath string
	Synced      bool
	CreatedAt   int64
	UpdatedAt   int64
}

// Queue item states. Completed items are deleted rather than kept, so
// "done" never appears in the database.
const (
	StatusPending  = "pending"
	StatusInflight = "inflight"
	StatusFailed   = "failed"
)

// QueueItem is one durable mutation awaiting (or denied) drain to the
// server. Payload is an immutable JSON snapshot of the wire fields taken
// at enqueue time; coalescing replaces the whole payload, never patches it.
type QueueItem struct {
	ID             int64
	Kind           entity.Kind
	EntityID       string
	Op             entity.Op
	Payload        json.RawMessage
	Attempts       int64
	Status         string
	LastError      string
	LeaseOwner     string
	LeaseExpiresAt int64
	CreatedAt      int64
	UpdatedAt      int64
}

// QueueCounts summarizes the queue by status for the status surfaces.
type QueueCounts struct {
	Pending  int64
	Inflight int64
	Failed   int64
}

// Total returns the number of items in any state.
func (c QueueCounts) Total() int64 {
	return c.Pending + c.Inflight + c.Failed
}

// EntityCounts summarizes stored entities per kind.
type EntityCounts struct {
	Receipts  int64
	Devices   int64
	Documents int64
}
