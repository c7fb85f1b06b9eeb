// Package domain defines the core persistence models and validated value
// types for the newsletter service. The models are mapped with GORM and are
// shared across the repository and service layers.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// MaxIdempotencyKeyLen is the longest key a client may send.
const MaxIdempotencyKeyLen = 50

// ErrInvalidIdempotencyKey is returned by ParseIdempotencyKey.
var ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")

// printable ASCII without space.
var idempotencyKeyPattern = regexp.MustCompile(`^[\x21-\x7E]+$`)

// IdempotencyKey is a client-supplied token identifying one logical request.
// Values of this type are only produced by ParseIdempotencyKey.
type IdempotencyKey string

// ParseIdempotencyKey validates s: 1..50 characters, printable ASCII, no
// whitespace. The key is used verbatim; it is not trimmed or case folded.
func ParseIdempotencyKey(s string) (IdempotencyKey, error) {
	if s == "" {
		return "", fmt.Errorf("%w: must not be empty", ErrInvalidIdempotencyKey)
	}
	if len(s) > MaxIdempotencyKeyLen {
		return "", fmt.Errorf("%w: must be at most %d characters", ErrInvalidIdempotencyKey, MaxIdempotencyKeyLen)
	}
	if !idempotencyKeyPattern.MatchString(s) {
		return "", fmt.Errorf("%w: must be printable ASCII without whitespace", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey(s), nil
}

func (k IdempotencyKey) String() string { return string(k) }

// HeaderPair is one response header line. Repeated names are kept as
// separate pairs so a replay preserves order and multiplicity.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HeaderPairs is stored as a JSON array. A nil slice is stored as NULL.
type HeaderPairs []HeaderPair

// Value implements driver.Valuer.
func (h HeaderPairs) Value() (driver.Value, error) {
	if h == nil {
		return nil, nil
	}
	b, err := json.Marshal([]HeaderPair(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (h *HeaderPairs) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("header pairs: unsupported type %T", src)
	}
	var out []HeaderPair
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("header pairs: %w", err)
	}
	if out == nil {
		out = []HeaderPair{}
	}
	*h = out
	return nil
}

// SavedResponse is the exact HTTP response produced for the first
// successful execution of a request. Replays must return it unchanged.
type SavedResponse struct {
	Status  int
	Headers HeaderPairs
	Body    []byte
}

// IdempotencyRecord is the per-(user, key) dedup row. It is inserted as a
// placeholder with null response columns and filled in by the same
// transaction that performs the side effects, so a committed row always
// carries a response.
type IdempotencyRecord struct {
	UserID          string      `gorm:"type:varchar(64);primaryKey"`
	IdempotencyKey  string      `gorm:"type:varchar(50);primaryKey"`
	ResponseStatus  *int        `gorm:"column:response_status"`
	ResponseHeaders HeaderPairs `gorm:"column:response_headers;type:text"`
	ResponseBody    []byte      `gorm:"column:response_body"`
	CreatedAt       time.Time   `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_records" }

// SavedResponse returns the stored response, or false while the record is
// still a placeholder.
func (r IdempotencyRecord) SavedResponse() (*SavedResponse, bool) {
	if r.ResponseStatus == nil {
		return nil, false
	}
	body := r.ResponseBody
	if body == nil {
		body = []byte{}
	}
	return &SavedResponse{Status: *r.ResponseStatus, Headers: r.ResponseHeaders, Body: body}, true
}
