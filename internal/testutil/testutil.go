// Package testutil holds helpers shared by the module's tests.
package testutil

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/meigma/obstinate/store/memstore"
)

// RandomBytes returns n random bytes.
func RandomBytes(tb testing.TB, n int) []byte {
	tb.Helper()
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		tb.Fatalf("rand.Read: %v", err)
	}
	return data
}

// WriteFile writes data to name inside a fresh temporary directory and
// returns the full path.
func WriteFile(tb testing.TB, name string, data []byte) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Entries returns the sorted names in dir. A missing directory yields nil.
func Entries(tb testing.TB, dir string) []string {
	tb.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		tb.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names
}

// Churn makes every read of st observe a new version: each Get or
// GetConditional first replaces the object under its key with version
// c1, c2, ... It returns the number of versions written so far.
func Churn(st *memstore.Store, data []byte) *atomic.Int64 {
	var n atomic.Int64
	st.SetBeforeGet(func(key string) {
		st.Put(key, "c"+strconv.FormatInt(n.Add(1), 10), data)
	})
	return &n
}

// ChangeOnce replaces key with version etag on the first read only,
// simulating a writer racing a single download.
func ChangeOnce(st *memstore.Store, etag string, data []byte) {
	var done atomic.Bool
	st.SetBeforeGet(func(key string) {
		if done.CompareAndSwap(false, true) {
			st.Put(key, etag, data)
		}
	})
}
