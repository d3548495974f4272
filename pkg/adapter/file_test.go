package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileInbound_PollPicksUpAndArchivesFile(t *testing.T) {
	inDir := t.TempDir()
	archiveDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "msg1.hl7"), []byte("MSH|1"), 0o644))

	received := make(chan []byte, 1)
	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		received <- payload
		return nil, nil
	}

	a := NewFileInbound(Settings{
		"FilePath":     inDir,
		"FileSpec":     "*.hl7",
		"PollInterval": "20ms",
		"ArchivePath":  archiveDir,
		"WatchFS":      false,
	}, handler)

	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background())

	select {
	case payload := <-received:
		assert.Equal(t, "MSH|1", string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("file was not picked up")
	}

	assert.Eventually(t, func() bool {
		entries, _ := os.ReadDir(archiveDir)
		return len(entries) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestFileInbound_HandlerErrorReturnsFileForRetry(t *testing.T) {
	inDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(inDir, "bad.hl7"), []byte("bad"), 0o644))

	handler := func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, assert.AnError
	}

	a := NewFileInbound(Settings{
		"FilePath":     inDir,
		"FileSpec":     "*.hl7",
		"PollInterval": "20ms",
		"WatchFS":      false,
	}, handler)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background())

	assert.Eventually(t, func() bool {
		return a.Snapshot().ErrorsTotal > 0
	}, time.Second, 10*time.Millisecond)

	_, err := os.Stat(filepath.Join(inDir, "bad.hl7"))
	assert.NoError(t, err)
}

func TestFileOutbound_WriteAndOverwriteError(t *testing.T) {
	dir := t.TempDir()
	a := NewFileOutbound(Settings{"FilePath": dir, "Filename": "out.hl7", "Overwrite": "error"})
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background())

	require.NoError(t, a.Send(context.Background(), []byte("MSH|1"), "ADT^A01"))
	data, err := os.ReadFile(filepath.Join(dir, "out.hl7"))
	require.NoError(t, err)
	assert.Equal(t, "MSH|1", string(data))

	err = a.Send(context.Background(), []byte("MSH|2"), "ADT^A01")
	assert.Error(t, err)
}

func TestFileOutbound_AppendMode(t *testing.T) {
	dir := t.TempDir()
	a := NewFileOutbound(Settings{"FilePath": dir, "Filename": "log.hl7", "Overwrite": "append"})
	require.NoError(t, a.Start(context.Background()))

	require.NoError(t, a.Send(context.Background(), []byte("a"), "T"))
	require.NoError(t, a.Send(context.Background(), []byte("b"), "T"))

	data, err := os.ReadFile(filepath.Join(dir, "log.hl7"))
	require.NoError(t, err)
	assert.Equal(t, "ab", string(data))
}

func TestRenderFilename_ExpandsPlaceholders(t *testing.T) {
	name := renderFilename("%type%_%id%.hl7", "ADT^A01")
	assert.Contains(t, name, "ADT_A01")
	assert.Contains(t, name, ".hl7")
}

func TestHTTPInbound_ServeHTTP_MethodNotAllowed(t *testing.T) {
	a := NewHTTPInbound(Settings{"AllowedMethods": "POST"}, func(ctx context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	a.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHTTPInbound_ServeHTTP_EchoesHandlerResponse(t *testing.T) {
	a := NewHTTPInbound(Settings{"AllowedMethods": "POST"}, func(ctx context.Context, payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
	w := httptest.NewRecorder()
	a.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "echo:hello", w.Body.String())
}

func TestHTTPInbound_ServeHTTP_BodyTooLarge(t *testing.T) {
	a := NewHTTPInbound(Settings{"AllowedMethods": "POST", "MaxBodySize": 4}, func(ctx context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("toolongbody"))
	w := httptest.NewRecorder()
	a.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHTTPOutbound_SendSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a := NewHTTPOutbound(Settings{"URL": srv.URL, "MaxRetries": 0}, nil)
	require.NoError(t, a.Start(context.Background()))

	resp, err := a.Send(context.Background(), []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp))
}

func TestHTTPOutbound_RetriesOn5xxThenFails(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewHTTPOutbound(Settings{"URL": srv.URL, "MaxRetries": 2, "RetryDelay": "1ms"}, nil)
	require.NoError(t, a.Start(context.Background()))

	_, err := a.Send(context.Background(), []byte("payload"))
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}
