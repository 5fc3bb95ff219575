package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.klb.dev/clipcache/internal/authority"
	"go.klb.dev/clipcache/internal/clipboard"
	"go.klb.dev/clipcache/internal/format"
	"go.klb.dev/clipcache/internal/store"
)

func newServer(t *testing.T, token string) (*httptest.Server, *store.Store) {
	t.Helper()
	s := store.New(nil)
	l := s.Bind("gateway", "http")
	t.Cleanup(l.Detach)

	h, err := New(Config{Clipboard: clipboard.New(clipboard.Config{Authority: l}), Inspector: l, Token: token})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, s
}

func putText(t *testing.T, s *store.Store, text string) {
	t.Helper()
	l := s.Bind("writer", "test")
	defer l.Detach()
	cb := clipboard.New(clipboard.Config{Authority: l})
	ctx := context.Background()
	require.NoError(t, cb.Open(ctx))
	require.NoError(t, cb.Empty(ctx))
	_, err := cb.ImportString(ctx, format.Text, text)
	require.NoError(t, err)
	require.NoError(t, cb.Close(ctx))
}

func get(t *testing.T, url string, header ...string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestStatus(t *testing.T) {
	srv, s := newServer(t, "")
	putText(t, s, "hello")

	resp, body := get(t, srv.URL+"/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var snap authority.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, s.Sequence(), snap.Sequence)
	assert.EqualValues(t, "writer", snap.Owner)
	require.Len(t, snap.Formats, 1)
	assert.Equal(t, format.Text, snap.Formats[0].Format)
}

func TestFormats(t *testing.T) {
	srv, s := newServer(t, "")
	putText(t, s, "hello")

	resp, body := get(t, srv.URL+"/v1/formats")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out FormatsResponse
	require.NoError(t, json.Unmarshal(body, &out))
	byID := map[format.ID]FormatEntry{}
	for _, e := range out.Formats {
		byID[e.Format] = e
	}
	assert.True(t, byID[format.Text].Stored)
	assert.Equal(t, "CF_TEXT", byID[format.Text].Name)
	require.Contains(t, byID, format.UnicodeText)
	assert.False(t, byID[format.UnicodeText].Stored)
}

func TestData_TextAsUTF8(t *testing.T) {
	srv, s := newServer(t, "")
	putText(t, s, "café")

	resp, body := get(t, srv.URL+"/v1/formats/unicodetext")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "café", string(body))
	assert.Equal(t, "CF_UNICODETEXT", resp.Header.Get("X-Clipcache-Format"))

	resp, body = get(t, srv.URL+"/v1/formats/1?raw=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, []byte("caf\xe9\x00"), body)
}

func TestData_Errors(t *testing.T) {
	srv, s := newServer(t, "")
	putText(t, s, "x")

	resp, _ := get(t, srv.URL+"/v1/formats/CF_DIB")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/v1/formats/no-such-format")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestToken(t *testing.T) {
	srv, _ := newServer(t, "secret")

	resp, _ := get(t, srv.URL+"/v1/status")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/v1/status", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
