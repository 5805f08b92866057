package blobstore

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/dirkeeper/internal/common"
)

// MemoryStore keeps objects in a map. It also serves them over HTTP so that
// its "presigned" URLs work against an httptest server: mount it and pass
// the server URL as BaseURL.
type MemoryStore struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{BaseURL: baseURL, objects: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return strings.TrimRight(m.BaseURL, "/") + "/" + key, nil
}

func (m *MemoryStore) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return m.PresignGet(ctx, key, ttl)
}

// ServeHTTP answers GET and PUT on /<key>.
func (m *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodGet:
		data, err := m.Get(r.Context(), key)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = m.Put(r.Context(), key, data, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
