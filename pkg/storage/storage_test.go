package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, g Gateway, scheme string) {
	t.Helper()
	ctx := context.Background()

	res, err := g.Store(ctx, []byte("blob"), StoreOptions{
		ContentType: "application/octet-stream",
		Metadata:    map[string]interface{}{"name": "a.bin"},
	})
	require.NoError(t, err)
	require.Equal(t, scheme+contentHash([]byte("blob")), res.URI)
	require.Equal(t, 4, res.Size)

	obj, err := g.Retrieve(ctx, res.URI)
	require.NoError(t, err)
	require.Equal(t, []byte("blob"), obj.Data)
	require.Equal(t, "application/octet-stream", obj.ContentType)
	require.Equal(t, "a.bin", obj.Metadata["name"])

	ok, err := g.Exists(ctx, res.URI)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = g.Retrieve(ctx, scheme+"missing")
	require.ErrorIs(t, err, ErrBlobNotFound)
	_, err = g.Retrieve(ctx, "other://x")
	require.ErrorIs(t, err, ErrInvalidURI)

	deleted, err := g.Delete(ctx, res.URI)
	require.NoError(t, err)
	require.True(t, deleted)
	deleted, err = g.Delete(ctx, res.URI)
	require.NoError(t, err)
	require.False(t, deleted)

	jres, err := StoreJSON(ctx, g, map[string]int{"n": 1}, StoreOptions{})
	require.NoError(t, err)
	var back map[string]int
	require.NoError(t, RetrieveJSON(ctx, g, jres.URI, &back))
	require.Equal(t, 1, back["n"])
	obj, err = g.Retrieve(ctx, jres.URI)
	require.NoError(t, err)
	require.Equal(t, "application/json", obj.ContentType)
}

func TestLocalStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local-storage.json")
	l, err := NewLocal(path, log.NewNopLogger())
	require.NoError(t, err)
	exercise(t, l, localScheme)
}

func TestLocalStorageSeesOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local-storage.json")
	reader, err := NewLocal(path, log.NewNopLogger())
	require.NoError(t, err)
	writer, err := NewLocal(path, log.NewNopLogger())
	require.NoError(t, err)

	res, err := writer.Store(context.Background(), []byte("late"), StoreOptions{})
	require.NoError(t, err)
	obj, err := reader.Retrieve(context.Background(), res.URI)
	require.NoError(t, err)
	require.Equal(t, []byte("late"), obj.Data)
}

func TestBoltStorage(t *testing.T) {
	b, err := OpenBolt(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	exercise(t, b, boltScheme)
}

func TestHTTPBaseURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "http://localhost:5001/", want: "http://localhost:5001"},
		{in: "/ip4/127.0.0.1/tcp/5001", want: "http://127.0.0.1:5001"},
		{in: "/ip4/10.0.0.2/tcp/443/https", want: "https://10.0.0.2:443"},
		{in: "/ip6/::1/tcp/5001/http", want: "http://[::1]:5001"},
		{in: "/dns4/ipfs.internal/tcp/5001/http", want: "http://ipfs.internal:5001"},
		{in: "", err: true},
		{in: "localhost:5001", err: true},
		{in: "/ip4/127.0.0.1/udp/5001", err: true},
		{in: "/ip4/not-an-ip/tcp/1", err: true},
	}
	for _, tc := range cases {
		got, err := HTTPBaseURL(tc.in)
		if tc.err {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestIPFSStorage(t *testing.T) {
	blobs := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/api/v0/add":
			require.Equal(t, "true", r.URL.Query().Get("pin"))
			require.Equal(t, "1", r.URL.Query().Get("cid-version"))
			f, _, err := r.FormFile("file")
			require.NoError(t, err)
			data, err := io.ReadAll(f)
			require.NoError(t, err)
			cid := "bafy" + contentHash(data)[:16]
			blobs[cid] = data
			_ = json.NewEncoder(w).Encode(map[string]string{"Name": "blob", "Hash": cid, "Size": "4"})
		case "/api/v0/cat", "/api/v0/block/stat":
			data, ok := blobs[r.URL.Query().Get("arg")]
			if !ok {
				http.Error(w, `{"Message":"not found"}`, http.StatusInternalServerError)
				return
			}
			if r.URL.Path == "/api/v0/cat" {
				_, _ = w.Write(data)
				return
			}
			require.Equal(t, "true", r.URL.Query().Get("offline"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"Key": r.URL.Query().Get("arg"), "Size": len(data)})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g, err := NewIPFS(srv.URL, time.Second, log.NewNopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	res, err := g.Store(ctx, []byte(`{"a":1}`), StoreOptions{})
	require.NoError(t, err)
	require.Contains(t, res.URI, "ipfs://bafy")

	obj, err := g.Retrieve(ctx, res.URI)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(obj.Data))
	require.Equal(t, "application/json", obj.ContentType)

	ok, err := g.Exists(ctx, res.URI)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = g.Exists(ctx, "ipfs://bafymissing")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = g.Retrieve(ctx, "ipfs://bafymissing")
	require.Error(t, err)
	_, err = g.Delete(ctx, res.URI)
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestArweaveRetrieve(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flaky":
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png"))
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	a := NewArweave(srv.URL, time.Second)
	ctx := context.Background()

	obj, err := a.Retrieve(ctx, "ar://flaky")
	require.NoError(t, err)
	require.Equal(t, []byte("png"), obj.Data)
	require.Equal(t, "image/png", obj.ContentType)
	require.Equal(t, int32(2), hits.Load())

	_, err = a.Retrieve(ctx, "https://arweave.net/gone")
	require.ErrorIs(t, err, ErrBlobNotFound)
	_, err = a.Retrieve(ctx, "ar://bad")
	require.Error(t, err)
	_, err = a.Retrieve(ctx, "ipfs://x")
	require.ErrorIs(t, err, ErrInvalidURI)

	_, err = a.Store(ctx, []byte("x"), StoreOptions{})
	require.ErrorIs(t, err, ErrUnsupported)
	deleted, err := a.Delete(ctx, "ar://flaky")
	require.NoError(t, err)
	require.False(t, deleted)
}
