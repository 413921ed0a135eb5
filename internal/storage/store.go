package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
)

var (
	ErrObjectNotFound = errors.New("object_not_found")
	ErrInvalidURI     = errors.New("invalid_storage_uri")
)

// FileStore holds uploaded report files. URIs returned by Save are what
// submissions keep in SourceURI.
type FileStore interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Router opens a URI with the store registered for its scheme and saves
// through the default store.
type Router struct {
	def    FileStore
	stores map[string]FileStore
}

func NewRouter(def FileStore, stores map[string]FileStore) *Router {
	r := &Router{def: def, stores: make(map[string]FileStore, len(stores))}
	for scheme, store := range stores {
		r.stores[strings.ToLower(scheme)] = store
	}
	return r
}

func (r *Router) Save(ctx context.Context, name string, body io.Reader) (string, error) {
	return r.def.Save(ctx, name, body)
}

func (r *Router) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	scheme := schemeOf(uri)
	if store, ok := r.stores[scheme]; ok {
		return store.Open(ctx, uri)
	}
	if scheme == "" {
		return r.def.Open(ctx, uri)
	}
	return nil, ErrInvalidURI
}

func schemeOf(uri string) string {
	parsed, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

func cleanName(name string) (string, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "", ErrInvalidURI
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrInvalidURI
		}
	}
	return name, nil
}
