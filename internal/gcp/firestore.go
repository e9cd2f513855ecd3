package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/fleetsync/internal/docstore"
	"github.com/Lllllllleong/fleetsync/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TenantsCollection is the root collection; every tenant's data lives under
// tenants/{tenantId}/{collection}/{id}.
const TenantsCollection = "tenants"

// NewFirestoreClient creates and returns a new Firestore client for the given
// project ID. An empty databaseID selects the default database.
func NewFirestoreClient(ctx context.Context, projectID, databaseID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// FirestoreStore is the production docstore.Store.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) collection(tenantID, collection string) *firestore.CollectionRef {
	return s.client.Collection(TenantsCollection).Doc(tenantID).Collection(collection)
}

func (s *FirestoreStore) Get(ctx context.Context, tenantID, collection, id string) (models.Record, error) {
	snap, err := s.collection(tenantID, collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return models.Record{}, docstore.ErrNotFound
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return models.NewRecord(snap.Ref.ID, snap.Data()), nil
}

func (s *FirestoreStore) GetAll(ctx context.Context, tenantID, collection string, filters ...docstore.Filter) ([]models.Record, error) {
	q := s.collection(tenantID, collection).Query
	for _, f := range filters {
		q = q.Where(f.Field, "==", f.Value)
	}
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	out := make([]models.Record, 0, len(docs))
	for _, snap := range docs {
		out = append(out, models.NewRecord(snap.Ref.ID, snap.Data()))
	}
	return out, nil
}

func (s *FirestoreStore) Set(ctx context.Context, tenantID, collection, id string, data map[string]any, merge bool) error {
	ref := s.collection(tenantID, collection).Doc(id)
	var err error
	if merge {
		_, err = ref.Set(ctx, data, firestore.MergeAll)
	} else {
		_, err = ref.Set(ctx, data)
	}
	if err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, tenantID, collection, id string) error {
	if _, err := s.collection(tenantID, collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Ping reads at most one tenant document to check reachability and
// credentials.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	it := s.client.Collection(TenantsCollection).Limit(1).Documents(ctx)
	defer it.Stop()
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

// MaxKVValueBytes keeps a FirestoreKV document under Firestore's 1 MiB
// document size limit, leaving room for the key and updatedAt.
const MaxKVValueBytes = 1<<20 - 4<<10

// ErrValueTooLarge is returned by FirestoreKV.SetItem for values above
// MaxKVValueBytes.
var ErrValueTooLarge = errors.New("gcp: value exceeds the Firestore document limit")

// FirestoreKV stores string values as documents {value, updatedAt} of one
// collection. It lets stateless functions share the pipeline state that
// otherwise lives in a local store.
type FirestoreKV struct {
	client     *firestore.Client
	collection string
	timeout    time.Duration
}

// NewFirestoreKV uses collection for storage; timeout bounds each call.
func NewFirestoreKV(client *firestore.Client, collection string, timeout time.Duration) *FirestoreKV {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FirestoreKV{client: client, collection: collection, timeout: timeout}
}

func (kv *FirestoreKV) GetItem(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), kv.timeout)
	defer cancel()
	snap, err := kv.client.Collection(kv.collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state %s: %w", key, err)
	}
	v, err := snap.DataAt("value")
	if err != nil {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (kv *FirestoreKV) SetItem(key, value string) error {
	if len(value) > MaxKVValueBytes {
		return fmt.Errorf("failed to write state %s (%d bytes): %w", key, len(value), ErrValueTooLarge)
	}
	ctx, cancel := context.WithTimeout(context.Background(), kv.timeout)
	defer cancel()
	_, err := kv.client.Collection(kv.collection).Doc(key).Set(ctx, map[string]any{
		"value":     value,
		"updatedAt": firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

func (kv *FirestoreKV) RemoveItem(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), kv.timeout)
	defer cancel()
	if _, err := kv.client.Collection(kv.collection).Doc(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to remove state %s: %w", key, err)
	}
	return nil
}
