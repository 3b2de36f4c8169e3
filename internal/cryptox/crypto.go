// Package cryptox implements the crypto primitives used by the sync layer:
// AES-256-GCM for document content, RSA-OAEP for wrapping the per-group
// content keys under the account key pair, and argon2id for deriving the
// key that protects the account private key at rest.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SymmetricKeySize is the AES-256 key length in bytes.
const SymmetricKeySize = 32

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// GenerateSymmetricKey returns a fresh random AES-256 key.
func GenerateSymmetricKey() ([]byte, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

// EncryptSymmetric encrypts plaintext with AES-GCM under key. A random
// nonce is generated per call and prepended to the returned ciphertext.
func EncryptSymmetric(key, plaintext []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptSymmetric reverses EncryptSymmetric. It fails if the ciphertext was
// produced under a different key or has been tampered with.
func DecryptSymmetric(key, ciphertext []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aesgcm.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, sealed := ciphertext[:aesgcm.NonceSize()], ciphertext[aesgcm.NonceSize():]

	plaintext, err := aesgcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aesgcm, nil
}

// WrapKeyAsymmetric encrypts a symmetric key with the account public key
// using RSA-OAEP/SHA-256.
func WrapKeyAsymmetric(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrapping key: %w", err)
	}
	return wrapped, nil
}

// UnwrapKeyAsymmetric decrypts a wrapped symmetric key with the account
// private key.
func UnwrapKeyAsymmetric(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrapping key: %w", err)
	}
	return key, nil
}

// GenerateKeyPair creates the account RSA key pair.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return priv, nil
}

// DeriveKeyFromPassphrase derives a 32-byte key-encryption key from a
// passphrase and salt using argon2id.
func DeriveKeyFromPassphrase(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, SymmetricKeySize)
}

// SealPrivateKey serializes the account private key (PKCS#1) and encrypts it
// under a passphrase-derived key for storage in the local metadata table.
func SealPrivateKey(priv *rsa.PrivateKey, kek []byte) ([]byte, error) {
	return EncryptSymmetric(kek, x509.MarshalPKCS1PrivateKey(priv))
}

// OpenPrivateKey reverses SealPrivateKey.
func OpenPrivateKey(sealed, kek []byte) (*rsa.PrivateKey, error) {
	der, err := DecryptSymmetric(kek, sealed)
	if err != nil {
		return nil, err
	}
	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return priv, nil
}
