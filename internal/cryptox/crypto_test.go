package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymmetric_RoundTrip(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	plaintext := []byte(`{"_id":"req_1","type":"Request","name":"List users"}`)

	ciphertext, err := EncryptSymmetric(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	got, err := DecryptSymmetric(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSymmetric_NonceVariesPerCall(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	a, err := EncryptSymmetric(key, []byte("same"))
	require.NoError(t, err)
	b, err := EncryptSymmetric(key, []byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestDecryptSymmetric_WrongKey(t *testing.T) {
	key1, err := GenerateSymmetricKey()
	require.NoError(t, err)
	key2, err := GenerateSymmetricKey()
	require.NoError(t, err)

	ciphertext, err := EncryptSymmetric(key1, []byte("secret"))
	require.NoError(t, err)

	_, err = DecryptSymmetric(key2, ciphertext)
	require.Error(t, err)
}

func TestDecryptSymmetric_TruncatedCiphertext(t *testing.T) {
	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	_, err = DecryptSymmetric(key, []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestWrapUnwrapKey_RoundTrip(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	wrapped, err := WrapKeyAsymmetric(&priv.PublicKey, key)
	require.NoError(t, err)

	got, err := UnwrapKeyAsymmetric(priv, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestUnwrapKey_WrongPrivateKey(t *testing.T) {
	priv1, err := GenerateKeyPair()
	require.NoError(t, err)
	priv2, err := GenerateKeyPair()
	require.NoError(t, err)

	key, err := GenerateSymmetricKey()
	require.NoError(t, err)

	wrapped, err := WrapKeyAsymmetric(&priv1.PublicKey, key)
	require.NoError(t, err)

	_, err = UnwrapKeyAsymmetric(priv2, wrapped)
	require.Error(t, err)
}

func TestSealOpenPrivateKey(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	kek := DeriveKeyFromPassphrase([]byte("correct horse"), []byte("salt1234"))

	sealed, err := SealPrivateKey(priv, kek)
	require.NoError(t, err)

	got, err := OpenPrivateKey(sealed, kek)
	require.NoError(t, err)
	assert.True(t, priv.Equal(got))

	wrongKek := DeriveKeyFromPassphrase([]byte("wrong"), []byte("salt1234"))
	_, err = OpenPrivateKey(sealed, wrongKek)
	require.Error(t, err)
}

func TestDeriveKeyFromPassphrase_Deterministic(t *testing.T) {
	a := DeriveKeyFromPassphrase([]byte("p"), []byte("s"))
	b := DeriveKeyFromPassphrase([]byte("p"), []byte("s"))
	c := DeriveKeyFromPassphrase([]byte("p"), []byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, SymmetricKeySize)
}
