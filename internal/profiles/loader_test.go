package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validProfileJSON = `{
  "reader_profile": {
    "id": "test-m100",
    "vendor": "SoundVault",
    "model": "SV-M100",
    "version": "1.0.0"
  },
  "link": {
    "baud_rate": 115200,
    "settle_delay_ms": 300
  },
  "timing": {
    "command_timeout_ms": 1000,
    "poll_interval_ms": 150,
    "idle_timeout_ms": 2000
  },
  "power": {
    "min_dbm": 15,
    "max_dbm": 26,
    "default_dbm": 20
  },
  "commands": [
    { "name": "single_poll", "code": 34 },
    { "name": "write_epc", "code": 73 }
  ]
}`

func writeProfile(t *testing.T, dir, id, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(content), 0644))
}

func TestLoaderLoadsValidProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "test-m100", validProfileJSON)

	loader, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	profile, err := loader.Load("test-m100")
	require.NoError(t, err)

	assert.Equal(t, "SV-M100", profile.Profile.Model)
	assert.Equal(t, 115200, profile.Link.BaudRate)
	assert.Equal(t, 26, profile.Power.MaxDbm)
	assert.True(t, profile.SupportsCommand(0x49))
	assert.False(t, profile.SupportsCommand(0x82))
}

func TestLoaderCachesProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "test-m100", validProfileJSON)

	loader, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	first, err := loader.Load("test-m100")
	require.NoError(t, err)

	// Deleting the file does not evict an already-loaded profile.
	require.NoError(t, os.Remove(filepath.Join(dir, "test-m100.json")))

	second, err := loader.Load("test-m100")
	require.NoError(t, err)
	assert.Same(t, first, second)

	loader.ClearCache()
	_, err = loader.Load("test-m100")
	assert.Error(t, err)
}

func TestLoaderRejectsInvalidProfile(t *testing.T) {
	dir := t.TempDir()
	// power.max_dbm is required.
	writeProfile(t, dir, "broken", `{
	  "reader_profile": {"id": "broken", "vendor": "X", "model": "Y", "version": "1"},
	  "link": {"baud_rate": 115200},
	  "timing": {},
	  "power": {"min_dbm": 15},
	  "commands": [{"name": "single_poll", "code": 34}]
	}`)

	loader, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	_, err = loader.Load("broken")
	assert.Error(t, err)
}

func TestLoaderProfileNotFound(t *testing.T) {
	loader, err := NewProfileLoader([]string{t.TempDir()})
	require.NoError(t, err)

	_, err = loader.Load("missing")
	assert.Error(t, err)
}

func TestValidatorRejectsBadBaudRate(t *testing.T) {
	validator, err := NewValidator()
	require.NoError(t, err)

	assert.NoError(t, validator.ValidateProfile([]byte(validProfileJSON)))

	bad := []byte(`{
	  "reader_profile": {"id": "x", "vendor": "X", "model": "Y", "version": "1"},
	  "link": {"baud_rate": 12345},
	  "timing": {},
	  "power": {"min_dbm": 15, "max_dbm": 26},
	  "commands": [{"name": "single_poll", "code": 34}]
	}`)
	assert.Error(t, validator.ValidateProfile(bad))
}

func TestCatalogAndResolve(t *testing.T) {
	dir := t.TempDir()
	index := `vendor: SoundVault
profiles:
  - id: test-m100
    file: test-m100.json
    name: Test reader
    tested: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.yaml"), []byte(index), 0644))

	logger := zap.NewNop()

	vendors := Catalog([]string{dir, t.TempDir()}, logger)
	require.Len(t, vendors, 1)
	assert.Equal(t, "SoundVault", vendors[0].Vendor)
	require.Len(t, vendors[0].Profiles, 1)

	ref, err := Resolve([]string{dir}, "test-m100", logger)
	require.NoError(t, err)
	assert.Equal(t, "test-m100.json", ref.File)

	_, err = Resolve([]string{dir}, "nope", logger)
	assert.Error(t, err)
}
