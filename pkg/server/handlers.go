package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/orneryd/fusedb/pkg/entity"
	"github.com/orneryd/fusedb/pkg/source"
)

// reservedParams are query parameters consumed by option parsing; anything
// else becomes a filter on the primary query.
var reservedParams = map[string]bool{
	"view":    true,
	"fields":  true,
	"limit":   true,
	"offset":  true,
	"sort":    true,
	"order":   true,
	"meta":    true,
	"resolve": true,
	"query":   true,
}

func (s *Server) entityType(w http.ResponseWriter, r *http.Request) (*entity.Type, bool) {
	name := r.PathValue("type")
	t, ok := s.types[name]
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown entity type: "+name)
		return nil, false
	}
	return t, true
}

// parseOptions maps query-string parameters onto call options. Unknown
// sort orders fall back to ascending via normalization inside the engine.
func parseOptions(q url.Values) entity.Options {
	opts := entity.Options{
		View:      q.Get("view"),
		SortField: q.Get("sort"),
		SortOrder: source.SortOrder(strings.ToUpper(q.Get("order"))),
		Query:     q.Get("query"),
	}
	if raw := q.Get("fields"); raw != "" {
		opts.Fields = make(map[string]bool)
		for _, f := range strings.Split(raw, ",") {
			if f = strings.TrimSpace(f); f != "" {
				opts.Fields[f] = true
			}
		}
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil {
		opts.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil {
		opts.Offset = n
	}
	opts.IncludeMeta = q.Get("meta") == "true" || q.Get("meta") == "1"
	opts.ResolveReferences = q.Get("resolve") == "true" || q.Get("resolve") == "1"
	return opts
}

// filterParams collects the non-reserved query parameters as primary-query
// filters. Repeated parameters become a membership filter.
func filterParams(q url.Values) map[string]any {
	params := make(map[string]any)
	for key, vals := range q {
		if reservedParams[key] || len(vals) == 0 {
			continue
		}
		if len(vals) == 1 {
			params[key] = vals[0]
			continue
		}
		members := make([]any, len(vals))
		for i, v := range vals {
			members[i] = v
		}
		params[key] = members
	}
	return params
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	t, ok := s.entityType(w, r)
	if !ok {
		return
	}
	opts := parseOptions(r.URL.Query())
	result, err := t.List(r.Context(), filterParams(r.URL.Query()), opts)
	if err != nil {
		s.writeEntityError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(result.Items))
	for _, in := range result.Items {
		items = append(items, in.ToObject(opts.View, opts.Fields))
	}
	body := map[string]any{"items": items}
	if result.Meta != nil {
		body["meta"] = result.Meta
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	t, ok := s.entityType(w, r)
	if !ok {
		return
	}
	opts := parseOptions(r.URL.Query())
	in, err := t.Read(r.Context(), s.identityParams(t, r), opts)
	if err != nil {
		s.writeEntityError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, in.ToObject(opts.View, opts.Fields))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	t, ok := s.entityType(w, r)
	if !ok {
		return
	}
	var data map[string]any
	if err := s.readJSON(r, &data); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	opts := parseOptions(r.URL.Query())
	in, err := t.Create(r.Context(), data, opts)
	if err != nil {
		s.writeEntityError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, in.ToObject(entity.ViewAll, nil))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	t, ok := s.entityType(w, r)
	if !ok {
		return
	}
	var data map[string]any
	if err := s.readJSON(r, &data); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	opts := parseOptions(r.URL.Query())
	in, err := t.Update(r.Context(), s.identityParams(t, r), data, opts)
	if err != nil {
		s.writeEntityError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, in.ToObject(entity.ViewAll, nil))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	t, ok := s.entityType(w, r)
	if !ok {
		return
	}
	opts := parseOptions(r.URL.Query())
	if err := t.Delete(r.Context(), s.identityParams(t, r), opts); err != nil {
		s.writeEntityError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// identityParams builds the primary-key lookup parameters from the URL.
func (s *Server) identityParams(t *entity.Type, r *http.Request) map[string]any {
	return map[string]any{t.IdentityPath(): r.PathValue("id")}
}
