package source

import (
	"context"
	"strings"
	"sync"
	"unicode"
)

// SearchSource is an in-memory full-text adapter backing Search bindings.
// Documents flushed into it are tokenized over the configured text fields
// into an inverted index; a List query's "q" term matches documents
// containing every query token. Remaining query terms filter by equality,
// like any other adapter.
type SearchSource struct {
	mu         sync.RWMutex
	name       string
	idField    string
	textFields []string
	docs       map[string]Record
	index      map[string]map[string]struct{} // token -> doc ids
	closed     bool
}

// NewSearchSource creates a search adapter indexing the given text fields.
func NewSearchSource(name, idField string, textFields []string) *SearchSource {
	if idField == "" {
		idField = "id"
	}
	return &SearchSource{
		name:       name,
		idField:    idField,
		textFields: textFields,
		docs:       make(map[string]Record),
		index:      make(map[string]map[string]struct{}),
	}
}

// Initialize is a no-op for the in-memory adapter.
func (s *SearchSource) Initialize(ctx context.Context) error { return nil }

// Read returns the single document matching the query.
func (s *SearchSource) Read(ctx context.Context, query Query, opts Options) (Record, error) {
	recs, err := s.List(ctx, query, Options{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// List matches the "q" term against the inverted index and filters the
// remaining terms by equality.
func (s *SearchSource) List(ctx context.Context, query Query, opts Options) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rest := make(Query, len(query))
	var q string
	for k, v := range query {
		if k == "q" {
			q, _ = v.(string)
			continue
		}
		rest[k] = v
	}

	candidates := s.candidateIDs(q)
	matched := make([]Record, 0)
	for id := range candidates {
		rec := s.docs[id]
		if rec != nil && matchQuery(rec, rest) {
			matched = append(matched, copyRecord(rec))
		}
	}
	if opts.SortField == "" {
		sortRecords(matched, Options{SortField: s.idField, SortOrder: SortAsc})
	} else {
		sortRecords(matched, opts)
	}
	return applyPage(matched, opts), nil
}

// candidateIDs intersects posting lists for every token of q; an empty q
// matches every document.
func (s *SearchSource) candidateIDs(q string) map[string]struct{} {
	tokens := tokenize(q)
	if len(tokens) == 0 {
		all := make(map[string]struct{}, len(s.docs))
		for id := range s.docs {
			all[id] = struct{}{}
		}
		return all
	}

	var out map[string]struct{}
	for _, tok := range tokens {
		posting := s.index[tok]
		if len(posting) == 0 {
			return nil
		}
		if out == nil {
			out = make(map[string]struct{}, len(posting))
			for id := range posting {
				out[id] = struct{}{}
			}
			continue
		}
		for id := range out {
			if _, ok := posting[id]; !ok {
				delete(out, id)
			}
		}
	}
	return out
}

// Count returns the number of matching documents.
func (s *SearchSource) Count(ctx context.Context, query Query, opts Options) (int64, error) {
	recs, err := s.List(ctx, query, Options{})
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

// NewInstance creates a document handle seeded with a snapshot.
func (s *SearchSource) NewInstance(data Record) Instance {
	return &searchInstance{src: s, changeTracker: newChangeTracker(data)}
}

// Close shuts the adapter; subsequent calls fail with ErrClosed.
func (s *SearchSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.docs = nil
	s.index = nil
	return nil
}

func (s *SearchSource) flush(inst *searchInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	id, _ := inst.Get(s.idField).(string)
	if id == "" {
		id = newULID()
		inst.setClean(s.idField, id)
	}

	if old := s.docs[id]; old != nil {
		s.unindex(id, old)
		for _, name := range inst.ModifiedFields() {
			old[name] = inst.values[name]
		}
		old[s.idField] = id
		inst.values = copyRecord(old)
		s.docs[id] = old
	} else {
		s.docs[id] = copyRecord(inst.values)
	}
	s.indexDoc(id, s.docs[id])
	inst.clearModified()
	return nil
}

func (s *SearchSource) remove(inst *searchInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	id, _ := inst.Get(s.idField).(string)
	if id == "" {
		return ErrInvalidData
	}
	doc, exists := s.docs[id]
	if !exists {
		return ErrNotFound
	}
	s.unindex(id, doc)
	delete(s.docs, id)
	return nil
}

func (s *SearchSource) indexDoc(id string, doc Record) {
	for _, tok := range s.docTokens(doc) {
		if s.index[tok] == nil {
			s.index[tok] = make(map[string]struct{})
		}
		s.index[tok][id] = struct{}{}
	}
}

func (s *SearchSource) unindex(id string, doc Record) {
	for _, tok := range s.docTokens(doc) {
		if posting := s.index[tok]; posting != nil {
			delete(posting, id)
			if len(posting) == 0 {
				delete(s.index, tok)
			}
		}
	}
}

func (s *SearchSource) docTokens(doc Record) []string {
	var toks []string
	for _, field := range s.textFields {
		if text, ok := doc[field].(string); ok {
			toks = append(toks, tokenize(text)...)
		}
	}
	return toks
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type searchInstance struct {
	changeTracker
	src *SearchSource
}

func (i *searchInstance) ID() any { return i.Get(i.src.idField) }

func (i *searchInstance) Flush(ctx context.Context) error { return i.src.flush(i) }

func (i *searchInstance) Remove(ctx context.Context) error { return i.src.remove(i) }

// Verify SearchSource implements the Source interface.
var _ Source = (*SearchSource)(nil)
