package types

import "strings"

// ItemStatus is the lifecycle state of a shopping item. Exactly two values are
// ever persisted; anything else in a patch is dropped before it reaches a store.
type ItemStatus string

const (
	StatusPending ItemStatus = "pending"
	StatusBought  ItemStatus = "bought"
)

// ValidStatus reports whether s is one of the two persistable statuses.
func ValidStatus(s ItemStatus) bool {
	return s == StatusPending || s == StatusBought
}

// Toggled returns the opposite status.
func (s ItemStatus) Toggled() ItemStatus {
	if s == StatusPending {
		return StatusBought
	}
	return StatusPending
}

// Item is a single shopping-list entry. The id is opaque, server-generated and
// immutable; label and addedBy are stored trimmed and never blank.
type Item struct {
	ID      string     `json:"id" dynamodbav:"id"`
	Label   string     `json:"label" dynamodbav:"label"`
	AddedBy string     `json:"addedBy" dynamodbav:"added_by"`
	Status  ItemStatus `json:"status" dynamodbav:"status"`
}

// List is a named, ordered collection of items. Order is insertion order.
// Lists are created lazily on first reference and never deleted.
type List struct {
	ID    string `json:"id" dynamodbav:"id"`
	Items []Item `json:"items" dynamodbav:"items"`
}

// ItemPatch carries the optional fields of a partial item update. Nil fields
// are left untouched.
type ItemPatch struct {
	Label  *string     `json:"label,omitempty"`
	Status *ItemStatus `json:"status,omitempty"`
}

// TrimmedNonBlank trims s and reports whether anything is left.
func TrimmedNonBlank(s string) (string, bool) {
	t := strings.TrimSpace(s)
	return t, t != ""
}

// ApplyPatch applies only the provided patch fields to item. A patched label
// is re-trimmed and rejected with ErrValidation if blank; an unrecognized
// status value is silently dropped. Shared by every ListStore backend so the
// patch semantics cannot drift between them.
func ApplyPatch(item Item, patch ItemPatch) (Item, error) {
	if patch.Label != nil {
		label, ok := TrimmedNonBlank(*patch.Label)
		if !ok {
			return Item{}, Err(ErrValidation, nil, "label must not be blank")
		}
		item.Label = label
	}
	if patch.Status != nil && ValidStatus(*patch.Status) {
		item.Status = *patch.Status
	}
	return item, nil
}
