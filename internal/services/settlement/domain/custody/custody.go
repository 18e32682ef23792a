// Package custody defines the record shared by every settlement protocol: an
// asset held in trust pending release to exactly one party.
package custody

import (
	"strings"
	"time"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
	"github.com/openclearing/settlement/internal/services/settlement/domain/asset"
)

// Status describes the stored lifecycle of a custody record.
type Status int

const (
	// StatusUnspecified represents an invalid status value.
	StatusUnspecified Status = iota
	// StatusOpen indicates the record holds its asset and accepts operations.
	StatusOpen
	// StatusResolved indicates the asset was released under the protocol's condition.
	StatusResolved
	// StatusCancelled indicates the deposit was returned to the creator.
	StatusCancelled
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusResolved:
		return "resolved"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unspecified"
	}
}

var (
	// ErrAlreadyResolved indicates the record reached a terminal state.
	ErrAlreadyResolved = apperrors.New(apperrors.CodeRecordAlreadyResolved, "record is no longer open")
	// ErrExpired indicates the record's deadline has passed.
	ErrExpired = apperrors.New(apperrors.CodeRecordExpired, "record deadline has passed")
	// ErrInvalidCaller indicates the caller is not the authorized party.
	ErrInvalidCaller = apperrors.New(apperrors.CodeInvalidCaller, "caller is not authorized for this operation")
	// ErrZeroAsset indicates an empty or malformed deposit.
	ErrZeroAsset = apperrors.New(apperrors.CodeAssetInvalid, "deposited asset handle is empty or invalid")
)

// Record is the shared custody entity. Held is present exactly while the
// record is stored open; expiry past the deadline is derived at access time,
// never written back.
type Record struct {
	ID           string
	Creator      string
	Counterparty string
	Held         asset.Held
	Expiry       *time.Time
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the record's deadline has passed at now. Records
// without a deadline never expire.
func (r Record) Expired(now time.Time) bool {
	return r.Expiry != nil && !now.Before(*r.Expiry)
}

// EscrowAddress returns the ledger address that owns a record's escrowed
// holdings for its open lifetime.
func EscrowAddress(recordID string) string {
	return "escrow:" + recordID
}

// NewRecord builds an open record holding the deposited asset.
func NewRecord(recordID, creator, counterparty string, deposit asset.Asset, expiry *time.Time, now time.Time) (Record, error) {
	if deposit.IsZero() {
		return Record{}, ErrZeroAsset
	}
	if strings.TrimSpace(recordID) == "" {
		return Record{}, apperrors.New(apperrors.CodeRecordInvalid, "record id is required")
	}
	created := now.UTC()
	var exp *time.Time
	if expiry != nil {
		value := expiry.UTC()
		exp = &value
	}
	return Record{
		ID:           recordID,
		Creator:      strings.TrimSpace(creator),
		Counterparty: strings.TrimSpace(counterparty),
		Held:         asset.Holding(deposit),
		Expiry:       exp,
		Status:       StatusOpen,
		CreatedAt:    created,
		UpdatedAt:    created,
	}, nil
}
