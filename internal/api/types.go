package api

import "time"

// Receipt is the wire form of a purchase receipt. IDs are client-generated
// UUIDs; the server accepts them on create so an entity keeps one identity
// whether or not its create has drained yet.
type Receipt struct {
	ID          string    `json:"id"`
	Vendor      string    `json:"vendor"`
	TotalCents  int64     `json:"totalCents"`
	Currency    string    `json:"currency"`
	PurchasedAt time.Time `json:"purchasedAt"`
	Note        string    `json:"note,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// Device is the wire form of a registered device with its warranty window.
type Device struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Brand          string    `json:"brand,omitempty"`
	Model          string    `json:"model,omitempty"`
	SerialNumber   string    `json:"serialNumber,omitempty"`
	ReceiptID      string    `json:"receiptId,omitempty"`
	WarrantyMonths int       `json:"warrantyMonths,omitempty"`
	PurchasedAt    time.Time `json:"purchasedAt"`
	UpdatedAt      time.Time `json:"updatedAt,omitzero"`
}

// Document is the wire form of an attached document (manual, invoice,
// proof-of-purchase scan). Content is uploaded separately via
// UploadDocumentContent.
type Document struct {
	ID          string    `json:"id"`
	OwnerKind   string    `json:"ownerKind"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// DocumentUpload is the queue-payload form of a document mutation: the wire
// fields plus the staged local content path. The path never goes on the
// wire — the engine strips it and streams the file in a second request.
type DocumentUpload struct {
	Document
	ContentPath string `json:"contentPath,omitempty"`
}

// Account is the authenticated account returned by GET /v1/me.
type Account struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// listPage is the generic shape of paginated list responses. The server
// returns an opaque cursor; an empty cursor means the last page.
type listPage[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}
