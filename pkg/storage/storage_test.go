package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	key := UploadKey(uuid.New(), "march statement.csv")
	require.NoError(t, store.Put(ctx, key, strings.NewReader("id,amount\n"), "text/csv"))

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	rc, err := store.Open(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "id,amount\n", string(body))

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key), "deleting twice is not an error")

	_, err = store.Open(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreKeysStayUnderRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "../../escape.csv", strings.NewReader("x"), ""))
	_, err = os.Stat(filepath.Join(root, "escape.csv"))
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestSanitizeFileName(t *testing.T) {
	require.Equal(t, "bank_export_.csv", SanitizeFileName("bank export?.csv"))
	require.Equal(t, "passwd", SanitizeFileName("../../etc/passwd"))
	require.Equal(t, "file.xlsx", SanitizeFileName(`C:\Users\me\file.xlsx`))
	require.Equal(t, "upload", SanitizeFileName(".."))
}

func TestUploadKeyIsJobScoped(t *testing.T) {
	id := uuid.MustParse("6f1c1f40-4c5e-4a8e-9d56-0c2b1d6a9e11")
	require.Equal(t, "6f1c1f40-4c5e-4a8e-9d56-0c2b1d6a9e11/ledger.csv", UploadKey(id, "ledger.csv"))
}
