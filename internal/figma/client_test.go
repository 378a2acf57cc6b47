package figma

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/design2code/internal/types"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type memImageStore struct {
	mu     sync.Mutex
	images map[string]*types.NodeImage
	err    error
}

func newMemImageStore() *memImageStore {
	return &memImageStore{images: map[string]*types.NodeImage{}}
}

func (s *memImageStore) key(owner uuid.UUID, fileKey, nodeID string) string {
	return owner.String() + "/" + fileKey + "/" + nodeID
}

func (s *memImageStore) GetNodeImage(_ context.Context, owner uuid.UUID, fileKey, nodeID string) (*types.NodeImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.images[s.key(owner, fileKey, nodeID)], nil
}

func (s *memImageStore) PutNodeImage(_ context.Context, owner uuid.UUID, fileKey, nodeID string, img *types.NodeImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.images[s.key(owner, fileKey, nodeID)] = img
	return nil
}

// figmaAPI fakes the images endpoint and the image CDN.
func figmaAPI(t *testing.T, imagesStatus int) (*httptest.Server, *int32) {
	t.Helper()
	var apiCalls int32
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/images/{key}", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		assert.Equal(t, "tok", r.Header.Get("X-Figma-Token"))
		assert.Equal(t, "png", r.URL.Query().Get("format"))
		if imagesStatus != http.StatusOK {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(imagesStatus)
			return
		}
		id := r.URL.Query().Get("ids")
		if id == "9:9" {
			_, _ = w.Write([]byte(`{"images":{"9:9":null}}`))
			return
		}
		_, _ = w.Write([]byte(`{"images":{"` + id + `":"` + srv.URL + `/cdn/render.png"}}`))
	})
	mux.HandleFunc("GET /cdn/render.png", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-Figma-Token"), "token must not leak to the CDN")
		_, _ = w.Write(pngBytes)
	})
	mux.HandleFunc("GET /v1/me", func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("X-Figma-Token") {
		case "good":
			_, _ = w.Write([]byte(`{"id":"1"}`))
		case "limited":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"err":"Invalid token"}`))
		}
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &apiCalls
}

func TestClient_FetchNodeImage_CachesAndPersists(t *testing.T) {
	srv, calls := figmaAPI(t, http.StatusOK)
	store := newMemImageStore()
	f, _ := newTestFetcher(DefaultRetryOptions())
	c := NewClient(srv.URL, f, WithImageStore(store), WithCache(NewMemoryCache(DefaultCacheTTL, nil)))
	owner := uuid.New()
	ctx := context.Background()

	img, err := c.FetchNodeImage(ctx, owner, "K", "1:2", "tok")
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngBytes), img.PNGBase64)
	assert.Equal(t, int32(1), *calls)

	persisted, _ := store.GetNodeImage(ctx, owner, "K", "1:2")
	require.NotNil(t, persisted)

	// Served from the persistent store; no network.
	again, err := c.FetchNodeImage(ctx, owner, "K", "1:2", "tok")
	require.NoError(t, err)
	assert.Equal(t, img.PNGBase64, again.PNGBase64)
	assert.Equal(t, int32(1), *calls)
}

func TestClient_FetchNodeImage_CacheHitWithoutStore(t *testing.T) {
	srv, calls := figmaAPI(t, http.StatusOK)
	f, _ := newTestFetcher(DefaultRetryOptions())
	c := NewClient(srv.URL, f)
	ctx := context.Background()

	_, err := c.FetchNodeImage(ctx, uuid.New(), "K", "1:2", "tok")
	require.NoError(t, err)
	_, err = c.FetchNodeImage(ctx, uuid.New(), "K", "1:2", "tok")
	require.NoError(t, err)
	assert.Equal(t, int32(1), *calls)
}

func TestClient_FetchNodeImage_StoreErrorsIgnored(t *testing.T) {
	srv, _ := figmaAPI(t, http.StatusOK)
	store := newMemImageStore()
	store.err = errors.New("db down")
	f, _ := newTestFetcher(DefaultRetryOptions())
	c := NewClient(srv.URL, f, WithImageStore(store))

	img, err := c.FetchNodeImage(context.Background(), uuid.New(), "K", "1:2", "tok")
	require.NoError(t, err)
	assert.NotNil(t, img)
}

func TestClient_FetchNodeImage_NoImage(t *testing.T) {
	srv, _ := figmaAPI(t, http.StatusOK)
	f, _ := newTestFetcher(DefaultRetryOptions())
	c := NewClient(srv.URL, f)

	img, err := c.FetchNodeImage(context.Background(), uuid.New(), "K", "9:9", "tok")
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestClient_FetchNodeImage_RateLimited(t *testing.T) {
	srv, _ := figmaAPI(t, http.StatusTooManyRequests)
	f, _ := newTestFetcher(DefaultRetryOptions())
	c := NewClient(srv.URL, f)

	_, err := c.FetchNodeImage(context.Background(), uuid.New(), "K", "1:2", "tok")
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 120, rl.RetryAfterSec)
}

func TestClient_FetchNodeImage_UpstreamError(t *testing.T) {
	srv, _ := figmaAPI(t, http.StatusForbidden)
	f, _ := newTestFetcher(DefaultRetryOptions())
	c := NewClient(srv.URL, f)

	_, err := c.FetchNodeImage(context.Background(), uuid.New(), "K", "1:2", "tok")
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusForbidden, fe.StatusCode)
}

func TestClient_ValidateToken(t *testing.T) {
	srv, _ := figmaAPI(t, http.StatusOK)
	f, _ := newTestFetcher(DefaultRetryOptions())
	c := NewClient(srv.URL, f)
	ctx := context.Background()

	assert.NoError(t, c.ValidateToken(ctx, "good"))

	err := c.ValidateToken(ctx, "bad")
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusForbidden, fe.StatusCode)
	assert.Contains(t, fe.Message, "file_content:read")

	err = c.ValidateToken(ctx, "limited")
	var rl *RateLimitError
	assert.ErrorAs(t, err, &rl)
}
