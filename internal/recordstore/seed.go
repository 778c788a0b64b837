package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/zombor/shop-scanner/internal/scan"
)

// Writer is implemented by record stores that can be seeded locally
type Writer interface {
	Put(ctx context.Context, collection, key string, fields scan.FieldMap) error
}

// Seed loads a JSON object of code to document into w and returns the
// number of documents written. Documents without an "id" get their key.
func Seed(ctx context.Context, w Writer, collection string, src io.Reader) (int, error) {
	var docs map[string]scan.FieldMap
	if err := json.NewDecoder(src).Decode(&docs); err != nil {
		return 0, fmt.Errorf("decoding seed file: %w", err)
	}

	keys := make([]string, 0, len(docs))
	for key := range docs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for i, key := range keys {
		fields := docs[key]
		if fields == nil {
			fields = scan.FieldMap{}
		}
		if _, ok := fields[scan.FieldID]; !ok {
			fields[scan.FieldID] = key
		}
		if err := w.Put(ctx, collection, key, fields); err != nil {
			return i, fmt.Errorf("seeding %s: %w", key, err)
		}
	}

	slog.Info("Seeded record store", "collection", collection, "documents", len(keys))
	return len(keys), nil
}
