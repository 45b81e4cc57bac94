// Package credentials resolves source credentials stored in source configs.
//
// Three forms are accepted:
//
//	enc:v1:<base64url(nonce||ciphertext)>  XChaCha20-Poly1305 under an HKDF-derived key
//	secret:<key>                           looked up through a SecretManager
//	anything else                          returned unchanged
package credentials

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/subrat243/Intelify/config"
)

const (
	// EncryptedPrefix marks values sealed by Encrypt
	EncryptedPrefix = "enc:v1:"
	// SecretPrefix marks values resolved through the SecretManager
	SecretPrefix = "secret:"

	hkdfInfo = "intelify source credentials v1"
)

var (
	// ErrNoMasterKey is returned when an encrypted value is found but no master key is available
	ErrNoMasterKey = errors.New("credential master key not configured")
	// ErrMalformed is returned for enc:v1 values that cannot be decoded or opened
	ErrMalformed = errors.New("malformed encrypted credential")
)

// Decrypter turns stored credential references into plaintext
type Decrypter struct {
	secrets       config.SecretManager
	masterKeyName string

	once   sync.Once
	aead   aeadCipher
	keyErr error
	rawKey []byte
}

type aeadCipher interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewDecrypter resolves the master key lazily through secrets under masterKeyName
func NewDecrypter(secrets config.SecretManager, masterKeyName string) *Decrypter {
	if masterKeyName == "" {
		masterKeyName = "master_key"
	}
	return &Decrypter{secrets: secrets, masterKeyName: masterKeyName}
}

// NewDecrypterWithKey builds a Decrypter around an explicit master key
func NewDecrypterWithKey(masterKey []byte, secrets config.SecretManager) *Decrypter {
	return &Decrypter{secrets: secrets, rawKey: append([]byte(nil), masterKey...)}
}

func (d *Decrypter) cipher() (aeadCipher, error) {
	d.once.Do(func() {
		key := d.rawKey
		if len(key) == 0 {
			if d.secrets == nil {
				d.keyErr = ErrNoMasterKey
				return
			}
			value, err := d.secrets.GetSecret(d.masterKeyName)
			if err != nil {
				d.keyErr = fmt.Errorf("%w: %v", ErrNoMasterKey, err)
				return
			}
			key = []byte(value)
		}

		derived := make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(hkdfInfo)), derived); err != nil {
			d.keyErr = fmt.Errorf("failed to derive credential key: %w", err)
			return
		}
		d.aead, d.keyErr = chacha20poly1305.NewX(derived)
	})
	return d.aead, d.keyErr
}

// Decrypt resolves value. Plain values pass through unchanged.
func (d *Decrypter) Decrypt(ctx context.Context, value string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch {
	case strings.HasPrefix(value, EncryptedPrefix):
		return d.open(strings.TrimPrefix(value, EncryptedPrefix))
	case strings.HasPrefix(value, SecretPrefix):
		key := strings.TrimPrefix(value, SecretPrefix)
		if d.secrets == nil {
			return "", fmt.Errorf("no secret manager configured for %s", key)
		}
		secret, err := d.secrets.GetSecret(key)
		if err != nil {
			return "", fmt.Errorf("failed to resolve secret %s: %w", key, err)
		}
		return secret, nil
	default:
		return value, nil
	}
}

func (d *Decrypter) open(encoded string) (string, error) {
	aead, err := d.cipher()
	if err != nil {
		return "", err
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrMalformed)
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrMalformed)
	}
	return string(plaintext), nil
}

// Encrypt seals plaintext into the enc:v1 form
func (d *Decrypter) Encrypt(plaintext string) (string, error) {
	aead, err := d.cipher()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// IsReference reports whether value needs resolving before use
func IsReference(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix) || strings.HasPrefix(value, SecretPrefix)
}
