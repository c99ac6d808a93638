package watch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/hotworker/pkg/types"
)

func newTestPoller() *FeedPoller {
	out := make(chan types.Artifact, 1)
	return NewFeedPoller("http://example.invalid/feed", "", "", 0, nil, "/tmp", out)
}

func TestFeedPollerCircuitOpensAfterThreshold(t *testing.T) {
	p := newTestPoller()

	for i := 0; i < feedCircuitFailureThreshold-1; i++ {
		p.recordFailure()
		assert.False(t, p.circuitOpen(), "circuit should stay closed before the threshold is reached")
	}

	p.recordFailure()
	assert.True(t, p.circuitOpen(), "circuit should open once consecutive failures hit the threshold")
}

func TestFeedPollerSuccessResetsCircuit(t *testing.T) {
	p := newTestPoller()

	for i := 0; i < feedCircuitFailureThreshold; i++ {
		p.recordFailure()
	}
	assert.True(t, p.circuitOpen())

	p.recordSuccess()
	assert.False(t, p.circuitOpen())
}

// newRegistrationFeedServer serves the three-call feed protocol for a
// single package "acme.payments" at version "1.0.2".
func newRegistrationFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/feed/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"acme.payments"}]}`)
	})
	mux.HandleFunc("/feed/registration/acme.payments/index.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[{"items":[
			{"catalogEntry":{"id":"acme.payments","version":"1.0.1"}},
			{"catalogEntry":{"id":"acme.payments","version":"1.0.2"}}
		]}]}`)
	})
	mux.HandleFunc("/feed/flatcontainer/acme.payments/1.0.2/acme.payments.1.0.2.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("fake-zip-bytes"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFeedPollerDiscoversAndDownloadsNewVersion(t *testing.T) {
	srv := newRegistrationFeedServer(t)
	downloadDir := t.TempDir()

	out := make(chan types.Artifact, 1)
	p := NewFeedPoller(srv.URL+"/feed", "", "", 0, nil, downloadDir, out)

	p.pollOnce(context.Background())

	select {
	case artifact := <-out:
		assert.Equal(t, "acme.payments", artifact.ID)
		assert.Equal(t, "1.0.2", artifact.Version)
		assert.True(t, artifact.FromFeed)

		expectedPath := filepath.Join(downloadDir, "acme.payments", "1.0.2", "acme.payments.1.0.2.zip")
		assert.Equal(t, expectedPath, artifact.LocalPath)
		data, err := os.ReadFile(expectedPath)
		require.NoError(t, err)
		assert.Equal(t, "fake-zip-bytes", string(data))
	default:
		t.Fatal("expected an artifact to be published")
	}
}

func TestFeedPollerSameVersionProducesNoReload(t *testing.T) {
	srv := newRegistrationFeedServer(t)
	downloadDir := t.TempDir()

	out := make(chan types.Artifact, 2)
	p := NewFeedPoller(srv.URL+"/feed", "", "", 0, nil, downloadDir, out)

	p.pollOnce(context.Background())
	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("expected first poll to publish an artifact")
	}

	p.pollOnce(context.Background())
	select {
	case a := <-out:
		t.Fatalf("expected no second artifact, got %+v", a)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeedPollerMissingRegistrationIsNotCircuitTripping(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed/query", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"acme.payments"}]}`)
	})
	mux.HandleFunc("/feed/registration/acme.payments/index.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	out := make(chan types.Artifact, 1)
	p := NewFeedPoller(srv.URL+"/feed", "", "", 0, nil, t.TempDir(), out)

	p.pollOnce(context.Background())
	assert.False(t, p.circuitOpen())
	assert.Equal(t, 0, p.consecutiveErr)
}
