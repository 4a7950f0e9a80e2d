package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/shinkai/internal/config"
	"github.com/rakunlabs/shinkai/internal/crypto"
)

func TestReadSecretFileParsesKeyValuePairs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secret")
	contents := "# comment line\nGLOBAL_IDENTITY_NAME=@@alice.shinkai\nIDENTITY_SECRET_KEY=abcd\n\nENCRYPTION_SECRET_KEY=ef01\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	secrets, err := readSecretFile(path)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"GLOBAL_IDENTITY_NAME":  "@@alice.shinkai",
		"IDENTITY_SECRET_KEY":   "abcd",
		"ENCRYPTION_SECRET_KEY": "ef01",
	}, secrets)
}

func TestReadSecretFileMissingReturnsNotExist(t *testing.T) {
	_, err := readSecretFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestReadSecretFileSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secret")
	require.NoError(t, os.WriteFile(path, []byte("no_equals_sign_here\nKEY=value\n"), 0o600))

	secrets, err := readSecretFile(path)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"KEY": "value"}, secrets)
}

func TestBuildProviderUnknownType(t *testing.T) {
	_, err := buildProvider(config.LLMConfig{Type: "does-not-exist"})
	require.Error(t, err)
}

func TestBuildProviderAnthropicAndOpenAI(t *testing.T) {
	anthropic, err := buildProvider(config.LLMConfig{Type: "anthropic", APIKey: "sk-ant-x", Model: "claude-haiku-4-5"})
	require.NoError(t, err)
	require.NotNil(t, anthropic)

	openai, err := buildProvider(config.LLMConfig{Type: "openai", APIKey: "sk-x", Model: "gpt-4o"})
	require.NoError(t, err)
	require.NotNil(t, openai)
}

func TestFirstProviderKeyReturnsConfiguredModel(t *testing.T) {
	key, model, err := firstProviderKey(map[string]config.LLMConfig{
		"anthropic": {Model: "claude-haiku-4-5"},
	})
	require.NoError(t, err)
	require.Equal(t, "anthropic", key)
	require.Equal(t, "claude-haiku-4-5", model)
}

func TestFirstProviderKeyEmptyMapErrors(t *testing.T) {
	_, _, err := firstProviderKey(map[string]config.LLMConfig{})
	require.Error(t, err)
}

func TestBuildProvidersPropagatesError(t *testing.T) {
	_, err := buildProviders(map[string]config.LLMConfig{
		"bad": {Type: "unknown"},
	})
	require.Error(t, err)
}

func TestDecryptProviderConfigsDecryptsEncryptedFields(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}

	encryptedKey, err := crypto.Encrypt("sk-ant-real", key[:])
	require.NoError(t, err)

	out, err := decryptProviderConfigs(map[string]config.LLMConfig{
		"anthropic": {Type: "anthropic", APIKey: encryptedKey},
		"openai":    {Type: "openai", APIKey: "sk-plain"},
	}, key)
	require.NoError(t, err)
	require.Equal(t, "sk-ant-real", out["anthropic"].APIKey)
	require.Equal(t, "sk-plain", out["openai"].APIKey)
}

func TestBuildMessageDigestChainClassifiesByLength(t *testing.T) {
	chain, err := buildMessageDigestChain()
	require.NoError(t, err)
	require.Equal(t, "workflow:message_digest", chain.Name())

	short, err := chain.RunFn(t.Context(), "hello")
	require.NoError(t, err)
	require.Contains(t, short, "5 characters long")
	require.NotContains(t, short, "summary chain")

	long, err := chain.RunFn(t.Context(), string(make([]byte, 300)))
	require.NoError(t, err)
	require.Contains(t, long, "300 characters long")
	require.Contains(t, long, "summary chain")
}
