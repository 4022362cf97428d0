package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")

	content := `# Test env file
KEY1=value1
KEY2="quoted value"
KEY3='single quoted'
# Comment
KEY4=value4
`
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0644))

	for _, k := range []string{"KEY1", "KEY2", "KEY3", "KEY4"} {
		t.Setenv(k, "")
	}

	require.NoError(t, loadEnvFile(envFile))

	assert.Equal(t, "value1", os.Getenv("KEY1"))
	assert.Equal(t, "quoted value", os.Getenv("KEY2"))
	assert.Equal(t, "single quoted", os.Getenv("KEY3"))
	assert.Equal(t, "value4", os.Getenv("KEY4"))
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(`EXISTING_KEY=new_value`), 0644))

	t.Setenv("EXISTING_KEY", "original_value")

	require.NoError(t, loadEnvFile(envFile))
	assert.Equal(t, "original_value", os.Getenv("EXISTING_KEY"))
}

func TestGetEnvWithFallback(t *testing.T) {
	t.Setenv("FALLBACK_KEY1", "")
	t.Setenv("FALLBACK_KEY2", "")

	assert.Empty(t, GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2"))

	t.Setenv("FALLBACK_KEY2", "value2")
	assert.Equal(t, "value2", GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2"))

	t.Setenv("FALLBACK_KEY1", "value1")
	assert.Equal(t, "value1", GetEnvWithFallback("FALLBACK_KEY1", "FALLBACK_KEY2"))
}

func TestResolveEnvWithAliases(t *testing.T) {
	const key = "HEMOTRACK_CHANNELS_DISCORD_TOKEN"
	t.Setenv(key, "")
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("DISCORD_TOKEN", "")

	assert.Empty(t, ResolveEnvWithAliases(key))

	t.Setenv("DISCORD_TOKEN", "second")
	assert.Equal(t, "second", ResolveEnvWithAliases(key))

	t.Setenv("DISCORD_BOT_TOKEN", "first")
	assert.Equal(t, "first", ResolveEnvWithAliases(key))

	t.Setenv(key, "canonical")
	assert.Equal(t, "canonical", ResolveEnvWithAliases(key))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, expandPath(tt.input), tt.input)
	}
}

func TestEnvAliases_Exist(t *testing.T) {
	required := map[string]string{
		"HEMOTRACK_CHANNELS_TELEGRAM_BOT_TOKEN": "TELEGRAM_BOT_TOKEN",
		"HEMOTRACK_CHANNELS_DISCORD_TOKEN":      "DISCORD_BOT_TOKEN",
		"HEMOTRACK_SYNC_REST_AUTH_TOKEN":        "FIREBASE_DATABASE_SECRET",
	}

	for canonical, alias := range required {
		assert.Contains(t, envAliases[canonical], alias, canonical)
	}
}

func BenchmarkLoadEnvFile(b *testing.B) {
	envFile := filepath.Join(b.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("KEY1=value1\nKEY2=value2\nKEY3=value3\n"), 0644); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		loadEnvFile(envFile)
	}
}
