package rfid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTable(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rfids.cdv")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))
	return path
}

func TestAuthorizeDecisions(t *testing.T) {
	path := writeTable(t, "TAG-OK:balance=5:allowed=true\n"+
		"TAG-BROKE:balance=0.5:allowed=true\n"+
		"TAG-BANNED:balance=5:allowed=false\n"+
		"TAG-BARE\n")
	service := NewService(path, "")

	assert.Equal(t, DecisionAccepted, service.Authorize("TAG-OK"))
	assert.Equal(t, DecisionRejected, service.Authorize("TAG-BROKE"))
	assert.Equal(t, DecisionRejected, service.Authorize("TAG-BANNED"))
	assert.Equal(t, DecisionRejected, service.Authorize("TAG-UNKNOWN"))
	assert.Equal(t, DecisionRejected, service.Authorize(""))
}

func TestAuthorizeDenylistWins(t *testing.T) {
	allow := writeTable(t, "TAG-OK:balance=5:allowed=true\n")
	deny := writeTable(t, "TAG-OK:reason=stolen\n")
	service := NewService(allow, deny)
	assert.Equal(t, DecisionRejected, service.Authorize("TAG-OK"))
}

func TestAuthorizeWithoutAllowlist(t *testing.T) {
	service := NewService("", "")
	assert.Equal(t, DecisionRejected, service.Authorize("TAG-OK"))
}

func TestAuthorizeReloadsPerCall(t *testing.T) {
	path := writeTable(t, "TAG-OK:balance=5:allowed=true\n")
	service := NewService(path, "")
	require.Equal(t, DecisionAccepted, service.Authorize("TAG-OK"))

	// operator edit takes effect with no restart
	require.NoError(t, os.WriteFile(path, []byte("TAG-OK:balance=5:allowed=false\n"), 0644))
	assert.Equal(t, DecisionRejected, service.Authorize("TAG-OK"))
}

func TestCustomValidator(t *testing.T) {
	path := writeTable(t, "TAG-BROKE:balance=0:allowed=true\n")
	service := NewService(path, "")
	service.SetValidator(AuthorizeAllowed)
	assert.Equal(t, DecisionAccepted, service.Authorize("TAG-BROKE"))
}

func TestStoreLoadEscapedValues(t *testing.T) {
	path := writeTable(t, "TAG-1:balance=5:name=John%20Doe\n")
	store := NewStore(path)
	record, ok, err := store.Get("TAG-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "John Doe", record["name"])
	assert.Equal(t, 5.0, record.Balance())
	assert.True(t, record.Allowed())
}

func TestStoreMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.cdv"))
	table, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestStoreAdminCycle(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "rfids.cdv"))

	require.NoError(t, store.Create("TAG-1", 10, true))
	assert.Error(t, store.Create("TAG-1", 1, true), "duplicate create must fail")

	require.NoError(t, store.Debit("TAG-1", 4))
	require.NoError(t, store.Credit("TAG-1", 1))
	record, ok, err := store.Get("TAG-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7.0, record.Balance())

	require.NoError(t, store.Disable("TAG-1"))
	record, _, _ = store.Get("TAG-1")
	assert.False(t, record.Allowed())

	require.NoError(t, store.Enable("TAG-1"))
	record, _, _ = store.Get("TAG-1")
	assert.True(t, record.Allowed())

	require.NoError(t, store.Delete("TAG-1"))
	_, ok, err = store.Get("TAG-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Error(t, store.Delete("TAG-1"))
}

func TestStoreUpdateWritesEscaped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rfids.cdv")
	store := NewStore(path)
	require.NoError(t, store.Update("TAG-1", map[string]string{"name": "John Doe"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	// percent-encoded spaces keep the file readable by other table tools
	assert.Contains(t, string(data), "name=John%20Doe")
	assert.NotContains(t, string(data), "+")

	record, ok, err := store.Get("TAG-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "John Doe", record["name"])
}
