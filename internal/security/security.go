// Package security provides session-token encryption at rest, credential
// redaction and input normalization for user-supplied tickers.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/models"
)

const (
	// EncryptionKeySize is the size of the AES-256 key in bytes.
	EncryptionKeySize = 32
	// SaltSize is the size of the salt for key derivation.
	SaltSize = 16
	// NonceSize is the size of the GCM nonce.
	NonceSize = 12
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
)

// ErrNoCachedSession is returned by Load when nothing is stored.
var ErrNoCachedSession = errors.New("no cached session")

// sealedBlob is the on-disk envelope.
type sealedBlob struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Version    int    `json:"version"`
}

// TokenVault keeps one session encrypted on disk so a restart inside the
// validity window does not need a fresh login.
type TokenVault struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// NewTokenVault creates a vault at path keyed by passphrase.
func NewTokenVault(path, passphrase string) *TokenVault {
	return &TokenVault{path: path, passphrase: passphrase}
}

// deriveKey derives an encryption key from a password using PBKDF2.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
}

// encrypt encrypts plaintext using AES-256-GCM.
func encrypt(plaintext, key []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

// decrypt decrypts ciphertext using AES-256-GCM.
func decrypt(ciphertext, key, nonce []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
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
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// Save encrypts and writes the session.
func (v *TokenVault) Save(session *models.Session) error {
	if v.passphrase == "" {
		return apperrors.NewSecurityError("save_session", "passphrase not configured", apperrors.ErrCredentialAccess)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generating salt: %w", err)
	}

	plaintext, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("serializing session: %w", err)
	}

	nonce, ciphertext, err := encrypt(plaintext, deriveKey(v.passphrase, salt))
	if err != nil {
		return apperrors.NewSecurityError("save_session", "encryption failed", err)
	}

	data, err := json.MarshalIndent(sealedBlob{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Version:    1,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing sealed session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	// Write with restricted permissions
	if err := os.WriteFile(v.path, data, 0600); err != nil {
		return fmt.Errorf("writing sealed session: %w", err)
	}
	return nil
}

// Load decrypts the stored session. A wrong passphrase or tampered file is
// a SecurityError; an absent file is ErrNoCachedSession.
func (v *TokenVault) Load() (*models.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCachedSession
	}
	if err != nil {
		return nil, fmt.Errorf("reading sealed session: %w", err)
	}

	var blob sealedBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, apperrors.NewSecurityError("load_session", "corrupt cache file", err)
	}

	salt, err1 := base64.StdEncoding.DecodeString(blob.Salt)
	nonce, err2 := base64.StdEncoding.DecodeString(blob.Nonce)
	ciphertext, err3 := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, apperrors.NewSecurityError("load_session", "corrupt cache file", err)
	}

	plaintext, err := decrypt(ciphertext, deriveKey(v.passphrase, salt), nonce)
	if err != nil {
		return nil, apperrors.NewSecurityError("load_session", "invalid passphrase", apperrors.ErrCredentialAccess)
	}

	var session models.Session
	if err := json.Unmarshal(plaintext, &session); err != nil {
		return nil, apperrors.NewSecurityError("load_session", "corrupt session payload", err)
	}
	return &session, nil
}

// Clear overwrites and removes the cache file.
func (v *TokenVault) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := secureDelete(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// secureDelete overwrites a file with random data before deleting.
func secureDelete(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	randomData := make([]byte, info.Size())
	if _, err := rand.Read(randomData); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(randomData); err != nil {
		f.Close()
		return err
	}
	f.Close()

	return os.Remove(path)
}
