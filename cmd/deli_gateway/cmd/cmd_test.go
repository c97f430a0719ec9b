package cmd

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"

	"github.com/DeLi-Labs/deli-app/pkg/cipher"
	"github.com/DeLi-Labs/deli-app/pkg/indexer"
	"github.com/DeLi-Labs/deli-app/pkg/sessiontoken"
	"github.com/DeLi-Labs/deli-app/pkg/storage"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--env-file", ""))
	require.NoError(t, root.ExecuteContext(context.Background()))
	return out.String()
}

func TestKeygen(t *testing.T) {
	var out keygenOutput
	require.NoError(t, json.Unmarshal([]byte(run(t, "keygen")), &out))

	_, err := sessiontoken.NewCodecFromHex(out.SessionTokenSecret)
	require.NoError(t, err)
	_, err = cipher.NewLocalFromHex(out.LocalCipherSecret, nil, log.NewNopLogger())
	require.NoError(t, err)
	_, err = out.SessionKeyPair.PrivateKey()
	require.NoError(t, err)
}

func TestSealEncryptsAndStores(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "storage.json")
	t.Setenv("STORAGE_TYPE", "local")
	t.Setenv("STORAGE_PATH", storePath)
	t.Setenv("LOCAL_CIPHER_SECRET", "4242424242424242424242424242424242424242424242424242424242424242")

	plaintext := []byte("%PDF-1.7 confidential claims")
	file := filepath.Join(dir, "claims.pdf")
	require.NoError(t, os.WriteFile(file, plaintext, 0o600))

	var out sealOutput
	require.NoError(t, json.Unmarshal([]byte(run(t, "seal", file, "--description", "claims")), &out))
	require.Equal(t, indexer.AttachmentEncrypted, out.Type)
	require.Equal(t, "claims.pdf", out.Name)
	require.Equal(t, "application/pdf", out.FileType)
	require.Equal(t, uint64(len(plaintext)), out.FileSizeBytes)
	require.NotEmpty(t, out.ResourceID)

	store, err := storage.NewLocal(storePath, log.NewNopLogger())
	require.NoError(t, err)
	obj, err := store.Retrieve(context.Background(), out.URI)
	require.NoError(t, err)
	ed, err := cipher.ParseEncryptedData(obj.Data)
	require.NoError(t, err)
	sum := sha256.Sum256(plaintext)
	require.Equal(t, hex.EncodeToString(sum[:]), ed.Hash)
	require.Equal(t, "application/pdf", ed.Metadata["fileType"])
}

func TestSealPlain(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "storage.json")
	t.Setenv("STORAGE_TYPE", "local")
	t.Setenv("STORAGE_PATH", storePath)

	file := filepath.Join(dir, "abstract.md")
	require.NoError(t, os.WriteFile(file, []byte("# Abstract"), 0o600))

	var out sealOutput
	require.NoError(t, json.Unmarshal([]byte(run(t, "seal", file, "--plain", "--file-type", "text/markdown")), &out))
	require.Equal(t, indexer.AttachmentPlain, out.Type)
	require.Empty(t, out.ResourceID)

	store, err := storage.NewLocal(storePath, log.NewNopLogger())
	require.NoError(t, err)
	obj, err := store.Retrieve(context.Background(), out.URI)
	require.NoError(t, err)
	require.Equal(t, "# Abstract", string(obj.Data))
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Setenv("SESSION_TOKEN_SECRET", "")
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "--env-file", ""})
	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "SESSION_TOKEN_SECRET")
}
