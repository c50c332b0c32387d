package credential

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var testSeal = SealParams{MemoryKiB: 8, Iterations: 1, Parallelism: 1}

func storeImplementations(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	sealed, err := NewFileStore(t.TempDir(), WithPassphrase("correct horse", testSeal))
	require.NoError(t, err)

	sqlStore, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sealed": sealed,
		"sqlite": sqlStore,
	}
}

func TestStore_ReadAfterWrite(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := s.Load(ctx)
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.Save(ctx, "tok-1"))
			got, ok, err := s.Load(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "tok-1", got)

			require.NoError(t, s.Save(ctx, "tok-2"))
			got, _, err = s.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, "tok-2", got)

			require.NoError(t, s.Clear(ctx))
			require.NoError(t, s.Clear(ctx))
			_, ok, err = s.Load(ctx)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestStore_RejectsEmptyToken(t *testing.T) {
	for name, s := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Save(context.Background(), "   ")
			require.ErrorIs(t, err, ErrEmptyToken)
		})
	}
}

func TestFileStore_CorruptFileIsReported(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, EntryName), []byte("{not json"), 0o600))

	_, ok, err := s.Load(context.Background())
	require.ErrorIs(t, err, ErrCorrupt)
	require.False(t, ok)
}

func TestFileStore_SealedWithWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := NewFileStore(dir, WithPassphrase("one", testSeal))
	require.NoError(t, err)
	require.NoError(t, a.Save(ctx, "secret-token"))

	raw, err := os.ReadFile(a.Path())
	require.NoError(t, err)
	require.False(t, strings.Contains(string(raw), "secret-token"), "token must not appear in sealed file")

	b, err := NewFileStore(dir, WithPassphrase("two", testSeal))
	require.NoError(t, err)
	_, _, err = b.Load(ctx)
	require.ErrorIs(t, err, ErrCorrupt)

	plain, err := NewFileStore(dir)
	require.NoError(t, err)
	_, _, err = plain.Load(ctx)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestFileStore_Permissions(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), "tok"))

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	if Fingerprint("") != "" {
		t.Fatalf("Fingerprint(\"\") should be empty")
	}
	a := Fingerprint("token-a")
	if len(a) != 12 {
		t.Fatalf("len=%d want 12", len(a))
	}
	if a == Fingerprint("token-b") {
		t.Fatalf("distinct tokens share a fingerprint")
	}
	if strings.Contains(a, "token") {
		t.Fatalf("fingerprint leaks token: %q", a)
	}
}
