package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGettersReadEnvironment(t *testing.T) {
	t.Setenv("VETBOOK_TEST_PORT", "8090")
	t.Setenv("VETBOOK_TEST_INT", "42")
	t.Setenv("VETBOOK_TEST_BOOL", "true")
	t.Setenv("VETBOOK_TEST_DUR", "15")
	t.Setenv("VETBOOK_TEST_LIST", "a, b,,c")

	port, err := Port("VETBOOK_TEST_PORT", "1")
	require.NoError(t, err)
	assert.Equal(t, "8090", port)

	n, err := Int("VETBOOK_TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	b, err := Bool("VETBOOK_TEST_BOOL", false)
	require.NoError(t, err)
	assert.True(t, b)

	d, err := Duration("VETBOOK_TEST_DUR", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d)

	assert.Equal(t, []string{"a", "b", "c"}, List("VETBOOK_TEST_LIST"))
	assert.Equal(t, "fallback", String("VETBOOK_TEST_MISSING", "fallback"))
}

func TestInvalidValuesError(t *testing.T) {
	t.Setenv("VETBOOK_TEST_BAD_PORT", "99999")
	_, err := Port("VETBOOK_TEST_BAD_PORT", "8080")
	assert.Error(t, err)

	t.Setenv("VETBOOK_TEST_BAD_INT", "x")
	_, err = Int("VETBOOK_TEST_BAD_INT", 1)
	assert.Error(t, err)

	_, err = RequiredString("VETBOOK_TEST_REQUIRED_MISSING")
	assert.Error(t, err)
}

func TestLoadConfigFileSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "booking.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vetbook_test_section:\n  - id: p1\n    name: Dr One\n"), 0o600))
	require.NoError(t, Load(path))

	var out []struct {
		ID   string `mapstructure:"id"`
		Name string `mapstructure:"name"`
	}
	require.NoError(t, UnmarshalKey("vetbook_test_section", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "Dr One", out[0].Name)
}
