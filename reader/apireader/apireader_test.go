package apireader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/purposeinplay/go-artifact/reader/apireader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publisher struct {
	mu       sync.Mutex
	payloads []string
}

func (p *publisher) Publish(_ context.Context, payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.payloads = append(p.payloads, payload)

	return nil
}

func TestReader_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "token", r.Header.Get("X-Api-Key"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"magnitude": 4.5}`))
	}))
	t.Cleanup(srv.Close)

	pub := &publisher{}

	loop := apireader.New(apireader.Config{
		URL:     srv.URL,
		Method:  http.MethodPost,
		Params:  map[string]string{"limit": "5"},
		Headers: map[string]string{"X-Api-Key": "token"},
	})

	require.NoError(t, loop.Drive(context.Background(), pub))
	require.Equal(t, []string{`{"magnitude":4.5}`}, pub.payloads)
}

func TestReader_Processor(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["a", "b"]`))
	}))
	t.Cleanup(srv.Close)

	pub := &publisher{}

	loop := apireader.New(apireader.Config{
		URL: srv.URL,
		Process: func(_ context.Context, raw any) ([]string, error) {
			var out []string

			for _, v := range raw.([]any) {
				out = append(out, strings.ToUpper(v.(string)))
			}

			return out, nil
		},
	})

	require.NoError(t, loop.Drive(context.Background(), pub))
	require.Equal(t, []string{"A", "B"}, pub.payloads)
}

func TestReader_StatusFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	pub := &publisher{}

	loop := apireader.New(apireader.Config{URL: srv.URL})

	require.NoError(t, loop.Drive(context.Background(), pub))
	require.Equal(t, []string{"Failed to retrieve data, status code: 503"}, pub.payloads)
}

func TestReader_TransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	pub := &publisher{}

	loop := apireader.New(apireader.Config{URL: srv.URL})

	require.NoError(t, loop.Drive(context.Background(), pub))
	require.Len(t, pub.payloads, 1)
	require.True(t, strings.HasPrefix(pub.payloads[0], "Failed to retrieve data: "))
}

func TestSource_UpdateURL(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		paths []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	src := apireader.NewSource(apireader.Config{
		URL: srv.URL + "/v1",
		UpdateURL: func(_ context.Context, current string) (string, error) {
			return current + "/next", nil
		},
	})

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, src.UpdateSource(ctx))

		_, err := src.Fetch(ctx)
		require.NoError(t, err)
	}

	require.Equal(t, []string{"/v1/next", "/v1/next/next"}, paths)
	require.Equal(t, srv.URL+"/v1/next/next", src.URL())
}
