package cryptox_test

import (
	"testing"

	"github.com/notevault/auth/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenSizes(t *testing.T) {
	t.Parallel()

	tok, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)
	require.Len(t, tok, 43)

	other, err := cryptox.GenerateToken(cryptox.TokenSize256)
	require.NoError(t, err)
	require.NotEqual(t, tok, other)
}

func TestGenerateTokenRejectsNonPositiveSize(t *testing.T) {
	t.Parallel()

	_, err := cryptox.GenerateToken(0)
	require.Error(t, err)
	_, err = cryptox.GenerateToken(-5)
	require.Error(t, err)
}

func TestFingerprintTokenIsDeterministic(t *testing.T) {
	t.Parallel()

	fp1 := cryptox.FingerprintToken("some-opaque-token")
	fp2 := cryptox.FingerprintToken("some-opaque-token")
	require.Equal(t, fp1, fp2)
	require.Len(t, fp1, 43) // base64url SHA-256, no padding

	require.NotEqual(t, fp1, cryptox.FingerprintToken("other-token"))
}

func TestEncryptDecryptPrivateKeyRoundTrip(t *testing.T) {
	pemData, err := cryptox.GenerateRSAKey(2048)
	require.NoError(t, err)

	encrypted, err := cryptox.EncryptPrivateKey(pemData)
	require.NoError(t, err)
	require.NotEqual(t, pemData, encrypted)

	decrypted, err := cryptox.DecryptPrivateKey(encrypted)
	require.NoError(t, err)
	require.Equal(t, pemData, decrypted)
}

func TestDecryptPrivateKeyRejectsTruncatedData(t *testing.T) {
	_, err := cryptox.DecryptPrivateKey([]byte("short"))
	require.Error(t, err)
}
