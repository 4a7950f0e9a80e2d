package subscriptionsync

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPMirrorListChecksumsPairsSiblings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"name": "x.vrkai"},
			{"name": "x.aaaaaaaa.checksum"},
			{"name": "y.vrkai"},
			{"name": "y.bbbbbbbb.checksum"},
			{"name": "unrelated.txt"}
		]`))
	}))
	defer srv.Close()

	m, err := NewHTTPMirror("", false)
	require.NoError(t, err)

	checksums, err := m.ListChecksums(t.Context(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"x.vrkai": "aaaaaaaa",
		"y.vrkai": "bbbbbbbb",
	}, checksums)
}

func TestHTTPMirrorUploadWritesBodyAndChecksumMarker(t *testing.T) {
	var putPaths []string
	var putBodies [][]byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		putPaths = append(putPaths, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		putBodies = append(putBodies, body)
	}))
	defer srv.Close()

	m, err := NewHTTPMirror("", false)
	require.NoError(t, err)

	require.NoError(t, m.Upload(t.Context(), srv.URL, "x.vrkai", []byte("body"), "aaaaaaaa"))
	require.Equal(t, []string{"/x.vrkai", "/x.aaaaaaaa.checksum"}, putPaths)
	require.Equal(t, []byte("body"), putBodies[0])
	require.Empty(t, putBodies[1])
}

func TestHTTPMirrorListChecksumsNotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m, err := NewHTTPMirror("", false)
	require.NoError(t, err)

	checksums, err := m.ListChecksums(t.Context(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, checksums)
}
