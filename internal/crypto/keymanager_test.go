package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct horse battery staple")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)
}

func TestEncryptKeyAcceptsPrefix(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "pw")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "pw")
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	require.Error(t, err)

	_, err = EncryptKey("zzzz", "pw")
	require.Error(t, err)

	// 16 bytes, not 32.
	_, err = EncryptKey("00112233445566778899aabbccddeeff", "pw")
	require.Error(t, err)
}

func TestDecryptKeyWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "right")
	require.NoError(t, err)

	_, err = DecryptKey(blob, "wrong")
	require.Error(t, err)

	_, err = DecryptKey([]byte("{not json"), "right")
	require.Error(t, err)
}

func TestLoadKeyResolutionOrder(t *testing.T) {
	// Raw key wins when set.
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex})
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "not-hex"})
	require.Error(t, err)

	// Encrypted file path.
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	require.Equal(t, testKeyHex, got)

	// Nothing configured.
	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)
}
