package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"unideploy/internal/apperrors"
	"unideploy/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamServer replies to POST /sandboxes with the given event lines.
func streamServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sandboxes", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
}

func remoteFor(srv *httptest.Server) *RemoteProvider {
	return &RemoteProvider{baseURL: srv.URL, apiKey: "test", client: srv.Client()}
}

func TestRemoteCreateRunning(t *testing.T) {
	srv := streamServer(t,
		`{"type": "stdout", "line": "installing deps"}`,
		`{"type": "status", "id": "sbx-1", "status": "starting"}`,
		`{"type": "status", "id": "sbx-1", "status": "running", "url": "https://sbx-1.fleet"}`,
	)
	defer srv.Close()

	var stdout []string
	inst, err := remoteFor(srv).Create(context.Background(), CreateRequest{
		Tier:     models.TierSeed,
		OnStdout: func(line string) { stdout = append(stdout, line) },
	})
	require.NoError(t, err)
	assert.Equal(t, "sbx-1", inst.ID)
	assert.Equal(t, "running", inst.Status)
	assert.Equal(t, []string{"installing deps"}, stdout)
}

func TestRemoteCreateFailedStatus(t *testing.T) {
	srv := streamServer(t,
		`{"type": "status", "id": "sbx-1", "status": "failed", "error": "OOM during install"}`,
	)
	defer srv.Close()

	_, err := remoteFor(srv).Create(context.Background(), CreateRequest{Tier: models.TierSeed})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSandbox, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "OOM during install")
}

func TestRemoteCreateStreamEndsBeforeRunning(t *testing.T) {
	// The provider dies mid-provision: the last status is non-terminal,
	// and that must not pass for a live sandbox.
	srv := streamServer(t,
		`{"type": "status", "id": "sbx-1", "status": "starting"}`,
	)
	defer srv.Close()

	_, err := remoteFor(srv).Create(context.Background(), CreateRequest{Tier: models.TierSeed})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSandbox, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), `"starting"`)
}

func TestRemoteCreateNoStatusEvents(t *testing.T) {
	srv := streamServer(t,
		`{"type": "stdout", "line": "hello"}`,
	)
	defer srv.Close()

	_, err := remoteFor(srv).Create(context.Background(), CreateRequest{Tier: models.TierSeed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a status event")
}

func TestRemoteCreateUnconfigured(t *testing.T) {
	p := &RemoteProvider{}
	_, err := p.Create(context.Background(), CreateRequest{Tier: models.TierSeed})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSandbox, apperrors.KindOf(err))
}
