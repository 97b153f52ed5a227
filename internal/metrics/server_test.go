package metrics

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerStartServesMetricsAndStops(t *testing.T) {
	// Server.Start binds via http.Server.ListenAndServe directly rather
	// than taking a pre-opened net.Listener, so there is no way to learn
	// an ephemeral port after the fact; a fixed loopback port is used
	// instead so the client request below has somewhere to land.
	srv := NewServer("127.0.0.1:19091", "/metrics")

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop(ctx)

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://127.0.0.1:19091/metrics")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(ctx))
}

func TestServerDefaultsPath(t *testing.T) {
	srv := NewServer("127.0.0.1:19092", "")
	assert.Equal(t, "/metrics", srv.path)
}

func TestServerStopWithoutStartIsNoOp(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "/metrics")
	assert.NoError(t, srv.Stop(context.Background()))
}
