package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/DeLi-Labs/deli-app/pkg/kv"
)

const boltScheme = "bolt://"

var blobsBucket = []byte("blobs")

// Bolt keeps blobs in a bbolt file, keyed by bolt://<sha256>.
type Bolt struct {
	db *bolt.DB
}

var _ Gateway = (*Bolt)(nil)

// OpenBolt opens (creating if needed) the blob database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := kv.Open(path, blobsBucket)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Close() error { return b.db.Close() }

func (b *Bolt) Type() string { return TypeBolt }

func (b *Bolt) Store(ctx context.Context, data []byte, opts StoreOptions) (*StoreResult, error) {
	hash := contentHash(data)
	e := localEntry{
		Data:        data,
		ContentType: opts.ContentType,
		Size:        len(data),
		Metadata:    opts.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	if err := kv.PutJSON(b.db, blobsBucket, hash, e); err != nil {
		return nil, err
	}
	return &StoreResult{URI: boltScheme + hash, Hash: hash, Size: len(data)}, nil
}

func (b *Bolt) key(uri string) (string, bool) {
	if !strings.HasPrefix(uri, boltScheme) {
		return "", false
	}
	return strings.TrimPrefix(uri, boltScheme), true
}

func (b *Bolt) Retrieve(ctx context.Context, uri string) (*Object, error) {
	k, ok := b.key(uri)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURI, uri)
	}
	var e localEntry
	found, err := kv.GetJSON(b.db, blobsBucket, k, &e)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, uri)
	}
	return &Object{Data: e.Data, ContentType: e.ContentType, Size: e.Size, Metadata: e.Metadata}, nil
}

func (b *Bolt) Exists(ctx context.Context, uri string) (bool, error) {
	k, ok := b.key(uri)
	if !ok {
		return false, nil
	}
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(blobsBucket).Get([]byte(k)) != nil
		return nil
	})
	return found, err
}

func (b *Bolt) Delete(ctx context.Context, uri string) (bool, error) {
	k, ok := b.key(uri)
	if !ok {
		return false, nil
	}
	return kv.Delete(b.db, blobsBucket, k)
}
