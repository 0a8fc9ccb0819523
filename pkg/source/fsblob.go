package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FSBlobSource is a blob-directory adapter: each record is one JSON
// document stored as "<root>/<id>.json". Listing scans the directory. It
// suits attachment metadata and other low-cardinality blob-adjacent data.
type FSBlobSource struct {
	mu      sync.Mutex
	root    string
	idField string
}

// NewFSBlobSource creates a filesystem-backed source rooted at dir.
func NewFSBlobSource(root, idField string) *FSBlobSource {
	if idField == "" {
		idField = "id"
	}
	return &FSBlobSource{root: root, idField: idField}
}

// Initialize creates the root directory.
func (f *FSBlobSource) Initialize(ctx context.Context) error {
	return os.MkdirAll(f.root, 0o755)
}

func (f *FSBlobSource) path(id string) string {
	// Identity values become file names; keep them flat.
	safe := strings.ReplaceAll(id, string(os.PathSeparator), "_")
	return filepath.Join(f.root, safe+".json")
}

// Read returns the single record matching the query.
func (f *FSBlobSource) Read(ctx context.Context, query Query, opts Options) (Record, error) {
	if id, ok := query[f.idField].(string); ok && len(query) == 1 {
		rec, err := f.load(f.path(id))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return rec, err
	}
	recs, err := f.List(ctx, query, Options{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// List scans the root directory, decoding and filtering each document.
func (f *FSBlobSource) List(ctx context.Context, query Query, opts Options) ([]Record, error) {
	entries, err := os.ReadDir(f.root)
	if errors.Is(err, fs.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}

	matched := make([]Record, 0)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := f.load(filepath.Join(f.root, e.Name()))
		if err != nil {
			return nil, err
		}
		if matchQuery(rec, query) {
			matched = append(matched, rec)
		}
	}
	if opts.SortField == "" {
		sortRecords(matched, Options{SortField: f.idField, SortOrder: SortAsc})
	} else {
		sortRecords(matched, opts)
	}
	return applyPage(matched, opts), nil
}

// Count returns the number of matching documents.
func (f *FSBlobSource) Count(ctx context.Context, query Query, opts Options) (int64, error) {
	recs, err := f.List(ctx, query, Options{})
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

func (f *FSBlobSource) load(path string) (Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rec, nil
}

// NewInstance creates a record handle seeded with a snapshot.
func (f *FSBlobSource) NewInstance(data Record) Instance {
	return &fsblobInstance{src: f, changeTracker: newChangeTracker(data)}
}

// Close is a no-op.
func (f *FSBlobSource) Close() error { return nil }

func (f *FSBlobSource) flush(inst *fsblobInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, _ := inst.Get(f.idField).(string)
	if id == "" {
		id = uuid.NewString()
		inst.setClean(f.idField, id)
	} else if stored, err := f.load(f.path(id)); err == nil {
		for _, name := range inst.ModifiedFields() {
			stored[name] = inst.values[name]
		}
		stored[f.idField] = id
		inst.values = stored
	}

	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(inst.values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(f.path(id), data, 0o644); err != nil {
		return err
	}
	inst.clearModified()
	return nil
}

func (f *FSBlobSource) remove(inst *fsblobInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, _ := inst.Get(f.idField).(string)
	if id == "" {
		return ErrInvalidData
	}
	err := os.Remove(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

type fsblobInstance struct {
	changeTracker
	src *FSBlobSource
}

func (i *fsblobInstance) ID() any { return i.Get(i.src.idField) }

func (i *fsblobInstance) Flush(ctx context.Context) error { return i.src.flush(i) }

func (i *fsblobInstance) Remove(ctx context.Context) error { return i.src.remove(i) }

// Verify FSBlobSource implements the Source interface.
var _ Source = (*FSBlobSource)(nil)
