package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	t.Parallel()

	key := []byte("correct horse battery staple")
	plain := `{"access_token":"abc","refresh_token":"def"}`

	sealed, err := Encrypt(key, plain)
	require.NoError(t, err)
	require.NotContains(t, sealed, "access_token")

	opened, err := Decrypt(key, sealed)
	require.NoError(t, err)
	require.Equal(t, plain, opened)
}

func TestEncryptIsRandomised(t *testing.T) {
	t.Parallel()

	key := []byte("k")

	a, err := Encrypt(key, "same")
	require.NoError(t, err)
	b, err := Encrypt(key, "same")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestDecryptWrongKey(t *testing.T) {
	t.Parallel()

	sealed, err := Encrypt([]byte("right"), "secret")
	require.NoError(t, err)

	_, err = Decrypt([]byte("wrong"), sealed)
	require.Error(t, err)
}

func TestDecryptInvalidInput(t *testing.T) {
	t.Parallel()

	_, err := Decrypt([]byte("k"), "!!not base64!!")
	require.Error(t, err)

	_, err = Decrypt([]byte("k"), "YWJj")
	require.ErrorIs(t, err, ErrCiphertextShort)
}

func TestEmptyKey(t *testing.T) {
	t.Parallel()

	_, err := Encrypt(nil, "x")
	require.ErrorIs(t, err, ErrEmptyKey)

	_, err = Decrypt(nil, "x")
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestEncryptTooLong(t *testing.T) {
	t.Parallel()

	_, err := Encrypt([]byte("k"), strings.Repeat("a", MaxPlaintextSize+1))
	require.ErrorIs(t, err, ErrPlaintextTooLong)
}
