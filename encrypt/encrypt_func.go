package encrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// Prefix marks a configuration value as an encrypted payload.
const Prefix = "enc:"

type Service struct {
	gcm cipher.AEAD
}

var (
	ErrMissingKey       = errors.New("encryption key is missing")
	ErrInvalidKeyLength = errors.New("key must be 16, 24, or 32 bytes")
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidData      = errors.New("invalid encrypted data")
)

// NewService creates a new encryption service
func NewService(key []byte) (*Service, error) {
	switch len(key) {
	case 0:
		return nil, ErrMissingKey
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Service{gcm: gcm}, nil
}

// Encrypt encrypts plaintext and returns base64 encoded string
func (s *Service) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}

	ciphertext := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64 encoded ciphertext
func (s *Service) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidData
	}

	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidData
	}

	nonce, encrypted := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, encrypted, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// Seal encrypts plaintext and returns it in its prefixed configuration form.
func (s *Service) Seal(plaintext string) (string, error) {
	ct, err := s.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return Prefix + ct, nil
}

// Open returns value unchanged unless it carries Prefix, in which case the
// payload is decrypted.
func (s *Service) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	return s.Decrypt(strings.TrimPrefix(value, Prefix))
}

// IsSealed reports whether value is an encrypted configuration value.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}
