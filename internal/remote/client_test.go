package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"taller/internal/config"
	"taller/internal/domain"
	"taller/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	APIKey string
	Extra  string
}

func newServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   string(body),
			APIKey: r.Header.Get("x-api-key"),
			Extra:  r.Header.Get("x-api-extra"),
		})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestClient(baseURL string) *Client {
	return NewClient(config.RemoteConfig{BaseURL: baseURL + "/", APIKey: "k", APIExtra: "x", Timeout: time.Second}, nil)
}

func TestEntityHandler_Create(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42, "nombre": "Ana"}`))
	})

	h := newTestClient(srv.URL).Handler(models.EntityClientes)
	remote, err := h.Create(context.Background(), json.RawMessage(`{"nombre":"Ana"}`))
	require.NoError(t, err)

	assert.Equal(t, "42", remote.ID)
	assert.JSONEq(t, `{"id":42,"nombre":"Ana"}`, string(remote.Data))

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/clientes", req.Path)
	assert.JSONEq(t, `{"nombre":"Ana"}`, req.Body)
	assert.Equal(t, "k", req.APIKey)
	assert.Equal(t, "x", req.Extra)
}

func TestEntityHandler_UpdateUnwrapsEnvelope(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"id": "p-1", "total": 7}}`))
	})

	h := newTestClient(srv.URL).Handler(models.EntityPedidos)
	remote, err := h.Update(context.Background(), "p-1", json.RawMessage(`{"total":7}`))
	require.NoError(t, err)

	assert.Equal(t, "p-1", remote.ID)
	assert.JSONEq(t, `{"id":"p-1","total":7}`, string(remote.Data))
	assert.Equal(t, http.MethodPut, (*seen)[0].Method)
	assert.Equal(t, "/api/pedidos/p-1", (*seen)[0].Path)
}

func TestEntityHandler_EmptyResponseKeepsID(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	h := newTestClient(srv.URL).Handler(models.EntityPedidos)
	remote, err := h.Update(context.Background(), "p-2", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "p-2", remote.ID)
	assert.Empty(t, remote.Data)
}

func TestEntityHandler_Delete(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	h := newTestClient(srv.URL).Handler(models.EntityInsumos)
	require.NoError(t, h.Delete(context.Background(), "i 1"))
	assert.Equal(t, http.MethodDelete, (*seen)[0].Method)
	assert.Equal(t, "/api/insumos/i 1", (*seen)[0].Path)
}

func TestEntityHandler_ErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   models.ErrorKind
		msg    string
	}{
		{"validation", http.StatusUnprocessableEntity, `{"error":"email invalido"}`, models.ErrorKindPermanent, "email invalido"},
		{"not found", http.StatusNotFound, `{"message":"missing"}`, models.ErrorKindPermanent, "missing"},
		{"server", http.StatusInternalServerError, `boom`, models.ErrorKindTransient, "boom"},
		{"throttled", http.StatusTooManyRequests, ``, models.ErrorKindTransient, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := newTestClient(srv.URL).Handler(models.EntityClientes).Update(context.Background(), "c1", json.RawMessage(`{}`))
			require.Error(t, err)

			var remoteErr *domain.RemoteError
			require.True(t, errors.As(err, &remoteErr))
			assert.Equal(t, tc.status, remoteErr.Status)
			assert.Equal(t, tc.msg, remoteErr.Message)
			assert.Equal(t, tc.kind, domain.Classify(err))
		})
	}
}

func TestEntityHandler_UnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Handler(models.EntityClientes).Create(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindTransient, domain.Classify(err))
}

func TestClient_FetchCollection(t *testing.T) {
	srv, seen := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"nombre":"Ana"},{"nombre":"sin id"},{"id":"b","nombre":"Luis"}]`))
	})

	items, err := newTestClient(srv.URL).FetchCollection(context.Background(), models.EntityClientes)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "1", items[0].ID)
	assert.Equal(t, "b", items[1].ID)
	assert.Equal(t, models.EntityClientes, items[1].EntityType)
	assert.False(t, items[0].Pending)
	assert.Equal(t, http.MethodGet, (*seen)[0].Method)
}

func TestClient_Registry(t *testing.T) {
	c := newTestClient("http://example.invalid")
	reg := c.Registry(models.EntityClientes, models.EntityPedidos)
	assert.Equal(t, []models.EntityType{models.EntityClientes, models.EntityPedidos}, reg.EntityTypes())

	h, ok := reg.Lookup(models.EntityPedidos)
	require.True(t, ok)
	assert.IsType(t, &EntityHandler{}, h)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	c := NewClient(config.RemoteConfig{
		BaseURL:   srv.URL,
		RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1},
	}, nil)
	h := c.Handler(models.EntityClientes)
	require.NoError(t, h.Delete(context.Background(), "c1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Delete(ctx, "c2")
	require.Error(t, err)
	assert.Equal(t, models.ErrorKindTransient, domain.Classify(err))
}
