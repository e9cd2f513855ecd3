// Package docstore defines the contract of the remote multi-tenant document
// store and the error classification shared by its implementations.
package docstore

import (
	"context"
	"errors"

	"github.com/Lllllllleong/fleetsync/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// Filter is an equality predicate applied server side by GetAll.
type Filter struct {
	Field string
	Value any
}

// Store is the remote document store client. Every call is scoped to a tenant
// and may fail on network or permission problems.
type Store interface {
	Get(ctx context.Context, tenantID, collection, id string) (models.Record, error)
	GetAll(ctx context.Context, tenantID, collection string, filters ...Filter) ([]models.Record, error)
	Set(ctx context.Context, tenantID, collection, id string, data map[string]any, merge bool) error
	Delete(ctx context.Context, tenantID, collection, id string) error
	// Ping checks that the store is reachable with the current credentials.
	Ping(ctx context.Context) error
}

// IsResourceExhausted reports a quota error. Callers stop talking to the
// remote store for a while when they see one.
func IsResourceExhausted(err error) bool {
	return status.Code(unwrapStatus(err)) == codes.ResourceExhausted
}

// IsPermissionDenied reports an authorization failure (expired session,
// security rules).
func IsPermissionDenied(err error) bool {
	switch status.Code(unwrapStatus(err)) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return true
	}
	return false
}

// IsUnreachable reports errors that mean the store cannot be contacted right
// now: timeouts, cancelled calls and unavailable backends.
func IsUnreachable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	switch status.Code(unwrapStatus(err)) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return true
	}
	return false
}

// unwrapStatus finds the first error in the chain carrying a gRPC status so
// wrapped errors classify the same as bare ones.
func unwrapStatus(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if _, ok := status.FromError(e); ok {
			return e
		}
	}
	return err
}
