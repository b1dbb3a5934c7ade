package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/crosspilot/crosspilot/internal/models"
)

// ErrDecryptFailed covers both tampered ciphertext and a corrupted record.
// Callers treat it as fatal for the one platform it belongs to.
var ErrDecryptFailed = errors.New("credential decryption failed")

// Vault encrypts platform credentials before they are persisted or queued.
// The key is injected at construction; there is no key-id versioning, so
// rotating the key invalidates previously stored ciphertexts.
type Vault struct {
	aead cipher.AEAD
}

func New(key []byte) (*Vault, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	return &Vault{aead: aead}, nil
}

func (v *Vault) Encrypt(credentials map[string]string) (*models.EncryptedCredentials, error) {
	plaintext, err := json.Marshal(credentials)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	sealed := v.aead.Seal(nil, nonce, plaintext, nil)

	// Seal appends the auth tag; store it separately so the record layout
	// makes tampering detectable per field.
	tagStart := len(sealed) - v.aead.Overhead()

	return &models.EncryptedCredentials{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[tagStart:]),
	}, nil
}

func (v *Vault) Decrypt(blob *models.EncryptedCredentials) (map[string]string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	tag, err := base64.StdEncoding.DecodeString(blob.AuthTag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	if len(nonce) != v.aead.NonceSize() {
		return nil, ErrDecryptFailed
	}

	plaintext, err := v.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		slog.Info(err.Error())
		return nil, ErrDecryptFailed
	}

	var credentials map[string]string
	if err := json.Unmarshal(plaintext, &credentials); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	return credentials, nil
}
