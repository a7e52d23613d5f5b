// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package resource

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quire-editor/quire/internal/store"
	"github.com/quire-editor/quire/internal/vpath"
	"github.com/quire-editor/quire/pkg/errutil"
)

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func fastBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
}

func newTestRepo(t *testing.T, s store.PackageStore) *Repository {
	t.Helper()
	if s == nil {
		s = store.NewMemoryStore()
	}
	return NewRepository(s, WithBaseURL("http://localhost:9100/"), WithBackoff(fastBackoff))
}

func TestRepository_StoreAndLoadSVG(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, nil)

	_, err := repo.StorePackage(ctx, "demo", []byte(`{"id":"demo"}`), "return {}",
		map[string]string{"assets/a.svg": b64("<svg/>")})
	require.NoError(t, err)

	res, err := repo.LoadResource(ctx, "demo", "assets/a.svg")
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(res.Data))
	assert.Equal(t, "image/svg+xml", res.MIMEType)

	_, err = repo.LoadResource(ctx, "demo", "assets/missing.png")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeResourceNotFound)
}

func TestRepository_LoadResourcePolicies(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, nil)
	_, err := repo.StorePackage(ctx, "demo", []byte(`{}`), "", map[string]string{
		`docs\guide.md`:   b64("# Guide"),
		"notes.toml":      b64("a = 1"),
		"blob.bin":        base64.StdEncoding.EncodeToString([]byte{0x00, 0xff, 0x10}),
		"img/photo.bmp":   base64.StdEncoding.EncodeToString([]byte{'B', 'M', 0x00, 0x01}),
		"img/icon.png":    base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'}),
		"./readme.txt":    b64("hello"),
		"scripts/util.js": b64("export {}"),
	})
	require.NoError(t, err)

	tests := []struct {
		path     string
		wantMIME string
	}{
		{"docs/guide.md", "text/markdown"},
		{`docs\guide.md`, "text/markdown"},
		{"/docs//./guide.md", "text/markdown"},
		{"notes.toml", "text/plain"},
		{"readme.txt", "text/plain"},
		{"img/icon.png", "image/png"},
		{"scripts/util.js", "text/javascript"},
		{"blob.bin", ""},
		{"img/photo.bmp", ""},
		{"../demo/readme.txt", ""},
		{"docs/../readme.txt", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res, err := repo.LoadResource(ctx, "demo", tt.path)
			if tt.wantMIME == "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, CodeResourceNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMIME, res.MIMEType)
		})
	}
}

func TestRepository_LoadResourceIsolatedByExtension(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, nil)
	_, err := repo.StorePackage(ctx, "a", []byte(`{}`), "", map[string]string{"x.md": b64("a")})
	require.NoError(t, err)
	_, err = repo.StorePackage(ctx, "b", []byte(`{}`), "", nil)
	require.NoError(t, err)

	_, err = repo.LoadResource(ctx, "b", "x.md")
	errutil.AssertErrorCode(t, err, CodeResourceNotFound)
}

func TestRepository_StorePackageRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	repo := newTestRepo(t, s)

	tests := []struct {
		name      string
		resources map[string]string
		code      string
	}{
		{"traversal", map[string]string{"../etc/passwd": b64("x")}, vpath.CodePathInvalid},
		{"bad base64", map[string]string{"a.md": "!!!"}, CodePackageInvalid},
		{"duplicate after normalizing", map[string]string{"a/b.md": b64("1"), `a\b.md`: b64("2")}, CodePackageInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.StorePackage(ctx, "demo", []byte(`{}`), "", tt.resources)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
			_, err = s.GetPackage(ctx, "demo")
			assert.True(t, store.IsNotFound(err), "nothing persisted")
		})
	}
}

func TestRepository_ReadTextAndURL(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, nil)
	_, err := repo.StorePackage(ctx, "demo", []byte(`{}`), "", map[string]string{
		"help.md":         b64("# Help"),
		"img/my icon.png": base64.StdEncoding.EncodeToString([]byte{0x89, 'P'}),
	})
	require.NoError(t, err)

	text, err := repo.ReadText(ctx, "demo", "help.md")
	require.NoError(t, err)
	assert.Equal(t, "# Help", text)

	_, err = repo.ReadText(ctx, "demo", "img/my icon.png")
	errutil.AssertErrorCode(t, err, CodeResourceNotFound)

	u, err := repo.URL("demo", `img\my icon.png`)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9100/ext/demo/img/my%20icon.png", u)

	_, err = repo.URL("demo", "../x")
	assert.Error(t, err)
}

func TestRepository_DisabledOptionAndDigest(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, nil)
	pkg, err := repo.StorePackage(ctx, "demo", []byte(`{}`), "code", map[string]string{"a.md": b64("a")}, Disabled())
	require.NoError(t, err)
	assert.False(t, pkg.Enabled)
	assert.Len(t, pkg.Digest, 64)
	assert.Equal(t, pkg.Digest, Digest([]byte(`{}`), "code", map[string][]byte{"a.md": []byte("a")}))
	assert.NotEqual(t, pkg.Digest, Digest([]byte(`{}`), "code", map[string][]byte{"a.md": []byte("b")}))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Enabled)

	require.NoError(t, repo.SetEnabled(ctx, "demo", true))
	loaded, err := repo.LoadPackage(ctx, "demo")
	require.NoError(t, err)
	assert.True(t, loaded.Enabled)

	require.NoError(t, repo.Delete(ctx, "demo"))
	_, err = repo.LoadPackage(ctx, "demo")
	assert.True(t, store.IsNotFound(err))
}

// flakyStore fails the first n calls of PutPackage and GetResource with
// store.ErrUnavailable.
type flakyStore struct {
	*store.MemoryStore
	failures atomic.Int32
}

func (f *flakyStore) fail() error {
	if f.failures.Add(-1) >= 0 {
		return fmt.Errorf("dial: %w", store.ErrUnavailable)
	}
	return nil
}

func (f *flakyStore) PutPackage(ctx context.Context, pkg *store.Package) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.MemoryStore.PutPackage(ctx, pkg)
}

func (f *flakyStore) GetResource(ctx context.Context, id, path string) ([]byte, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.MemoryStore.GetResource(ctx, id, path)
}

func TestRepository_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{MemoryStore: store.NewMemoryStore()}
	fs.failures.Store(2)
	repo := newTestRepo(t, fs)

	_, err := repo.StorePackage(ctx, "demo", []byte(`{}`), "", map[string]string{"a.md": b64("a")})
	require.NoError(t, err)

	fs.failures.Store(2)
	res, err := repo.LoadResource(ctx, "demo", "a.md")
	require.NoError(t, err)
	assert.Equal(t, "a", string(res.Data))
}

func TestRepository_PersistentFailureIsStorageUnavailable(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore()}
	fs.failures.Store(100)
	repo := newTestRepo(t, fs)

	_, err := repo.StorePackage(context.Background(), "demo", []byte(`{}`), "", nil)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeStorageUnavailable)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}

// gatedStore blocks PutPackage until released and records overlap.
type gatedStore struct {
	*store.MemoryStore
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	entered   chan string
	release   chan struct{}
}

func (g *gatedStore) PutPackage(ctx context.Context, pkg *store.Package) error {
	n := g.inFlight.Add(1)
	for {
		m := g.maxFlight.Load()
		if n <= m || g.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	g.entered <- pkg.Code
	<-g.release
	g.inFlight.Add(-1)
	return g.MemoryStore.PutPackage(ctx, pkg)
}

func TestRepository_StorePackageSerializesPerID(t *testing.T) {
	ctx := context.Background()
	gs := &gatedStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan string, 4),
		release:     make(chan struct{}),
	}
	repo := newTestRepo(t, gs)

	var wg sync.WaitGroup
	for _, code := range []string{"first", "second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.StorePackage(ctx, "demo", []byte(`{}`), code, nil)
			assert.NoError(t, err)
		}()
	}

	<-gs.entered
	select {
	case <-gs.entered:
		t.Fatal("second write for the same id entered the store before the first finished")
	case <-time.After(50 * time.Millisecond):
	}
	gs.release <- struct{}{}
	<-gs.entered
	gs.release <- struct{}{}
	wg.Wait()
	assert.Equal(t, int32(1), gs.maxFlight.Load())
}

func TestRepository_StorePackageDifferentIDsIndependent(t *testing.T) {
	ctx := context.Background()
	gs := &gatedStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan string, 4),
		release:     make(chan struct{}),
	}
	repo := newTestRepo(t, gs)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.StorePackage(ctx, id, []byte(`{}`), id, nil)
			assert.NoError(t, err)
		}()
	}
	<-gs.entered
	<-gs.entered
	assert.Equal(t, int32(2), gs.maxFlight.Load())
	close(gs.release)
	wg.Wait()
}

func TestRepository_Handler(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, nil)
	_, err := repo.StorePackage(ctx, "demo", []byte(`{}`), "", map[string]string{
		"assets/a.svg": b64("<svg/>"),
		"blob.bin":     base64.StdEncoding.EncodeToString([]byte{0, 1, 2}),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(repo.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ext/demo/assets/a.svg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/svg+xml; charset=utf-8", resp.Header.Get("Content-Type"))

	for _, p := range []string{"/ext/demo/blob.bin", "/ext/demo/missing.md", "/ext/other/assets/a.svg"} {
		resp, err := http.Get(srv.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
	}
}

func TestKeyedMutex_DropsIdleEntries(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("a")
	assert.Len(t, k.locks, 1)
	unlock()
	assert.Empty(t, k.locks)
}
