// Package entity provides the type-safe entity vocabulary shared by the
// store, the mutation queue, the API client, and the CLI: entity kinds,
// mutation operations, and client-generated identifiers.
//
// Identifiers are UUIDv4 strings minted locally at creation time and are
// canonical from that moment on. The server accepts them as-is, so an
// entity keeps one identity whether or not its create has drained yet.
package entity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Kind identifies one of the entity families the app tracks.
type Kind string

// Entity kinds.
const (
	KindReceipt  Kind = "receipt"
	KindDevice   Kind = "device"
	KindDocument Kind = "document"
)

// validKinds enumerates accepted kinds for parsing and validation.
var validKinds = map[Kind]bool{
	KindReceipt:  true,
	KindDevice:   true,
	KindDocument: true,
}

// Kinds returns all valid kinds in stable (sorted) order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(validKinds))
	for k := range validKinds {
		kinds = append(kinds, k)
	}

	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return kinds
}

// Valid reports whether the kind is one of the known entity kinds.
func (k Kind) Valid() bool {
	return validKinds[k]
}

// String returns the kind as its wire/database string.
func (k Kind) String() string {
	return string(k)
}

// ParseKind converts user or database input into a Kind. It accepts the
// singular form in any case plus the plural the CLI uses ("receipts").
func ParseKind(s string) (Kind, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	trimmed = strings.TrimSuffix(trimmed, "s")

	k := Kind(trimmed)
	if !k.Valid() {
		return "", fmt.Errorf("unknown entity kind %q (valid: %s)", s, validKindList())
	}

	return k, nil
}

// validKindList returns a sorted, comma-separated list of valid kinds for
// error messages. Derived from validKinds so it never drifts.
func validKindList() string {
	kinds := Kinds()
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}

	return strings.Join(parts, ", ")
}

// Op is a queued mutation operation.
type Op string

// Mutation operations.
const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// validOps enumerates accepted operations.
var validOps = map[Op]bool{
	OpCreate: true,
	OpUpdate: true,
	OpDelete: true,
}

// Valid reports whether the op is a known mutation operation.
func (o Op) Valid() bool {
	return validOps[o]
}

// String returns the op as its wire/database string.
func (o Op) String() string {
	return string(o)
}

// ParseOp converts database input into an Op.
func ParseOp(s string) (Op, error) {
	o := Op(strings.ToLower(strings.TrimSpace(s)))
	if !o.Valid() {
		return "", fmt.Errorf("unknown queue operation %q (valid: create, update, delete)", s)
	}

	return o, nil
}

// NewID mints a client-generated entity identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s parses as a UUID. Used to reject malformed
// identifiers at CLI and API boundaries before they reach the store.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NormalizeName canonicalizes user-entered names (vendors, product names,
// document titles): Unicode NFC, inner whitespace runs collapsed to single
// spaces, outer whitespace trimmed. Keeps equality checks and sorting stable
// across input methods that produce different codepoint sequences.
func NormalizeName(s string) string {
	normalized := norm.NFC.String(s)
	fields := strings.Fields(normalized)

	return strings.Join(fields, " ")
}
