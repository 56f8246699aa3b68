package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStore implements Backend on a Cloud Storage bucket. The object
// generation is the version token; writes are conditioned on it.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore creates a storage client for bucket. Objects live under prefix.
func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("missing gcs bucket")
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCSStore) objectName(key string) string {
	return path.Join(g.prefix, key)
}

func (g *GCSStore) countsKey(ns string) string {
	return "counters/" + ns + ".json"
}

func (g *GCSStore) Fetch(ctx context.Context, key string) (*Object, error) {
	r, err := g.client.Bucket(g.bucket).Object(g.objectName(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return &Object{Key: key, Content: data, Version: r.Attrs.Generation}, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, content []byte, version int64) (int64, error) {
	cond := storage.Conditions{GenerationMatch: version}
	if version == 0 {
		cond = storage.Conditions{DoesNotExist: true}
	}

	w := g.client.Bucket(g.bucket).Object(g.objectName(key)).If(cond).NewWriter(ctx)
	w.ContentType = contentTypeForKey(key)
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return 0, classifyGCS(key, err)
	}
	if err := w.Close(); err != nil {
		return 0, classifyGCS(key, err)
	}
	return w.Attrs().Generation, nil
}

func (g *GCSStore) LoadCounts(ctx context.Context, ns string) (Counts, int64, error) {
	obj, err := g.Fetch(ctx, g.countsKey(ns))
	if errors.Is(err, ErrNotFound) {
		return Counts{}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	counts := Counts{}
	if err := json.Unmarshal(obj.Content, &counts); err != nil {
		return nil, 0, fmt.Errorf("decode counts: %w", err)
	}
	return counts, obj.Version, nil
}

func (g *GCSStore) SaveCounts(ctx context.Context, ns string, counts Counts, version int64) error {
	b, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("encode counts: %w", err)
	}
	_, err = g.Put(ctx, g.countsKey(ns), b, version)
	return err
}

// ListNames returns the base names of the objects under dir.
func (g *GCSStore) ListNames(ctx context.Context, dir string) ([]string, error) {
	prefix := g.objectName(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if attrs.Name == "" {
			continue // synthetic prefix entry
		}
		names = append(names, path.Base(attrs.Name))
	}
	return names, nil
}

func (g *GCSStore) Close() error {
	return g.client.Close()
}

func classifyGCS(key string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return ErrVersionConflict
	}
	return fmt.Errorf("write %s: %w", key, err)
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
