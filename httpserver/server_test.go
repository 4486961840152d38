package httpserver_test

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/purposeinplay/go-artifact/httpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServer_ShutdownWithoutServing(t *testing.T) {
	t.Parallel()

	s := httpserver.New(zap.NewNop(), nil)

	require.NoError(t, s.Shutdown(0))
	assert.NoError(t, s.Shutdown(0))
}

func TestServer_ServeUntilShutdown(t *testing.T) {
	t.Parallel()

	s := httpserver.New(zap.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)

	go func() {
		served <- s.Serve(ln)
	}()

	resp, err := http.Get("http://" + ln.Addr().String())
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "pong", string(body))

	require.NoError(t, s.Shutdown(time.Second))

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestOperationalHandler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "probe_total",
		Help: "Probe counter.",
	})
	reg.MustRegister(counter)
	counter.Inc()

	tests := map[string]struct {
		health         httpserver.HealthFunc
		path           string
		expectedStatus int
		expectedBody   string
	}{
		"Metrics": {
			path:           "/metrics",
			expectedStatus: http.StatusOK,
			expectedBody:   "probe_total 1",
		},
		"Healthy": {
			health:         func() error { return nil },
			path:           "/healthz",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		"NoHealthFunc": {
			path:           "/healthz",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		"Unhealthy": {
			health:         func() error { return errors.New("artifact is not alive") },
			path:           "/healthz",
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "artifact is not alive",
		},
	}

	for name, test := range tests {
		test := test

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()

			httpserver.OperationalHandler(reg, test.health).
				ServeHTTP(rec, httptest.NewRequest(http.MethodGet, test.path, nil))

			require.Equal(t, test.expectedStatus, rec.Code)
			require.Contains(t, rec.Body.String(), test.expectedBody)
		})
	}
}
