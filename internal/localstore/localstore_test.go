package localstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorageContract(t *testing.T) {
	stores := map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage { return NewMemory() },
		"sqlite": func(t *testing.T) Storage { return openSQLite(t) },
		"namespaced": func(t *testing.T) Storage {
			return NewNamespaced(NewMemory(), "tenant-a")
		},
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			_, ok, err := s.GetItem("erp_intake")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.SetItem("erp_intake", `{"a":1}`))
			require.NoError(t, s.SetItem("erp_intake", `{"a":2}`))
			v, ok, err := s.GetItem("erp_intake")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `{"a":2}`, v)

			require.NoError(t, s.RemoveItem("erp_intake"))
			_, ok, err = s.GetItem("erp_intake")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.NoError(t, s.RemoveItem("missing"))
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	require.NoError(t, s.SetItem("erp_billing", "[]"))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	v, ok, err := reopened.GetItem("erp_billing")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "[]", v)
	assert.Equal(t, path, reopened.Path())
}

func TestClosedStoresFail(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.Close())
	_, _, err := mem.GetItem("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, mem.SetItem("k", "v"), ErrClosed)

	s := openSQLite(t)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SetItem("k", "v"), ErrClosed)
	assert.NoError(t, s.Close())
}

func TestNamespacedIsolatesTenants(t *testing.T) {
	shared := NewMemory()
	a := NewNamespaced(shared, "tenant-a")
	b := NewNamespaced(shared, "tenant-b:")

	require.NoError(t, a.SetItem("erp_intake", "A"))
	require.NoError(t, b.SetItem("erp_intake", "B"))

	va, _, _ := a.GetItem("erp_intake")
	vb, _, _ := b.GetItem("erp_intake")
	assert.Equal(t, "A", va)
	assert.Equal(t, "B", vb)
	assert.ElementsMatch(t, []string{"tenant-a:erp_intake", "tenant-b:erp_intake"}, shared.Keys())
}
