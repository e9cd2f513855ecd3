package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Reserved record keys. They are managed by the repository and never stored in
// Record.Fields.
const (
	FieldID        = "id"
	FieldTenantID  = "tenantId"
	FieldUserID    = "userId"
	FieldDeleted   = "deleted"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

var reservedFields = map[string]struct{}{
	FieldID:        {},
	FieldTenantID:  {},
	FieldUserID:    {},
	FieldDeleted:   {},
	FieldCreatedAt: {},
	FieldUpdatedAt: {},
}

// IsReserved reports whether key is one of the repository-managed fields.
func IsReserved(key string) bool {
	_, ok := reservedFields[key]
	return ok
}

// Record is one business document (shipment, dispatch, invoice, fuel log...).
// The repository-managed attributes are typed; everything else is an opaque
// payload kept in Fields.
type Record struct {
	ID        string
	TenantID  string
	UserID    string
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Fields    map[string]any
}

// NewRecord builds a record from a loose payload. Reserved keys found in the
// payload are lifted into the typed attributes.
func NewRecord(id string, payload map[string]any) Record {
	r := FromMap(payload)
	if id != "" {
		r.ID = id
	}
	return r
}

// FromMap decodes a document as returned by Firestore or by encoding/json.
// Timestamps may be time.Time values or RFC 3339 strings.
func FromMap(m map[string]any) Record {
	r := Record{Fields: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case FieldID:
			r.ID = stringValue(v)
		case FieldTenantID:
			r.TenantID = stringValue(v)
		case FieldUserID:
			r.UserID = stringValue(v)
		case FieldDeleted:
			b, _ := v.(bool)
			r.Deleted = b
		case FieldCreatedAt:
			r.CreatedAt = timeValue(v)
		case FieldUpdatedAt:
			r.UpdatedAt = timeValue(v)
		default:
			r.Fields[k] = v
		}
	}
	return r
}

// Value returns the value stored under key, consulting the typed attributes for
// reserved keys.
func (r Record) Value(key string) (any, bool) {
	switch key {
	case FieldID:
		return r.ID, r.ID != ""
	case FieldTenantID:
		return r.TenantID, r.TenantID != ""
	case FieldUserID:
		return r.UserID, r.UserID != ""
	case FieldDeleted:
		return r.Deleted, true
	case FieldCreatedAt:
		return r.CreatedAt, !r.CreatedAt.IsZero()
	case FieldUpdatedAt:
		return r.UpdatedAt, !r.UpdatedAt.IsZero()
	}
	v, ok := r.Fields[key]
	return v, ok
}

// Clone returns a deep enough copy: the field map is copied, nested values are shared.
func (r Record) Clone() Record {
	c := r
	c.Fields = maps.Clone(r.Fields)
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	return c
}

// Merge applies patch on top of r. Payload fields are merged key by key with
// the patch winning; the deleted flag always comes from the patch. Identity and
// timestamps are only overwritten when the patch carries them.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	for k, v := range patch.Fields {
		out.Fields[k] = v
	}
	out.Deleted = patch.Deleted
	if patch.ID != "" {
		out.ID = patch.ID
	}
	if patch.TenantID != "" {
		out.TenantID = patch.TenantID
	}
	if patch.UserID != "" {
		out.UserID = patch.UserID
	}
	if !patch.CreatedAt.IsZero() {
		out.CreatedAt = patch.CreatedAt
	}
	if !patch.UpdatedAt.IsZero() {
		out.UpdatedAt = patch.UpdatedAt
	}
	return out
}

// ToMap flattens the record into the document shape written to Firestore.
// Timestamps stay time.Time so Firestore stores them natively. The id is not
// part of the document body; it is the document key.
func (r Record) ToMap() map[string]any {
	m := make(map[string]any, len(r.Fields)+5)
	maps.Copy(m, r.Fields)
	m[FieldTenantID] = r.TenantID
	m[FieldDeleted] = r.Deleted
	if r.UserID != "" {
		m[FieldUserID] = r.UserID
	}
	if !r.CreatedAt.IsZero() {
		m[FieldCreatedAt] = r.CreatedAt
	}
	if !r.UpdatedAt.IsZero() {
		m[FieldUpdatedAt] = r.UpdatedAt
	}
	return m
}

// MarshalJSON writes { ...fields, id, tenantId, userId, deleted, createdAt, updatedAt }.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+6)
	maps.Copy(m, r.Fields)
	if r.ID != "" {
		m[FieldID] = r.ID
	}
	m[FieldTenantID] = r.TenantID
	m[FieldDeleted] = r.Deleted
	if r.UserID != "" {
		m[FieldUserID] = r.UserID
	}
	if !r.CreatedAt.IsZero() {
		m[FieldCreatedAt] = r.CreatedAt.Format(time.RFC3339Nano)
	}
	if !r.UpdatedAt.IsZero() {
		m[FieldUpdatedAt] = r.UpdatedAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	*r = FromMap(m)
	return nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func timeValue(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case *time.Time:
		if t != nil {
			return *t
		}
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	}
	return time.Time{}
}
