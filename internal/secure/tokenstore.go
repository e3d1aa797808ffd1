// Package secure handles two credential concerns for the logging/error
// surfaces: redacting header/env values before they reach a log field, and
// caching a resolved bearer token across restarts so a backend descriptor's
// env-substituted Authorization header does not need its origin (e.g. a
// secrets manager) hit on every startup.
//
// Grounded on internal/secure/token_store.go's encrypted-file
// fallback; the platform keychain/Secret Service/Windows Credential Manager
// backends it layered on top of that fallback have nothing to serve here
// (this module runs as a single bridge process, not a desktop app
// integrating with an OS credential manager) and are dropped.
package secure

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
)

const (
	configDirPerm = 0o700
	tokenFilePerm = 0o600
	pbkdf2Iterations = 10000
	keyLength = 32
)

// TokenCache persists resolved bearer tokens keyed by server name, encrypted
// at rest with a key derived from the machine's hostname and user so the
// cache file never holds a plaintext secret.
type TokenCache struct {
	filePath string
	password []byte
	mu sync.Mutex
}

// NewTokenCache opens (creating if absent) the token cache under
// $HOME/.config/<appName>/tokens.enc.
func NewTokenCache(appName string) (*TokenCache, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ".config", appName)
	if err := os.MkdirAll(configDir, configDirPerm); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}

	return &TokenCache{
		filePath: filepath.Join(configDir, "tokens.enc"),
		password: derivedKey(appName),
	}, nil
}

func derivedKey(appName string) []byte {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}

	salt := fmt.Sprintf("%s-%s-%s", appName, hostname, username)

	return pbkdf2.Key([]byte(salt), []byte(appName), pbkdf2Iterations, keyLength, sha256.New)
}

type tokenData struct {
	Tokens map[string]string `json:"tokens"`
}

// Store saves token under key, replacing any prior value.
func (c *TokenCache) Store(key, token string) error {
	td, err := c.load()
	if err != nil {
		return err
	}

	td.Tokens[key] = base64.StdEncoding.EncodeToString([]byte(token))

	return c.save(td)
}

// Retrieve returns the token stored under key, or an error if absent.
func (c *TokenCache) Retrieve(key string) (string, error) {
	td, err := c.load()
	if err != nil {
		return "", err
	}

	encoded, ok := td.Tokens[key]
	if !ok {
		return "", fmt.Errorf("no cached token for %s", key)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode cached token: %w", err)
	}

	return string(decoded), nil
}

// Delete removes any cached token for key.
func (c *TokenCache) Delete(key string) error {
	td, err := c.load()
	if err != nil {
		return err
	}

	delete(td.Tokens, key)

	return c.save(td)
}

func (c *TokenCache) load() (*tokenData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := os.ReadFile(c.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &tokenData{Tokens: make(map[string]string)}, nil
		}

		return nil, err
	}

	decrypted, err := c.decrypt(raw)
	if err != nil {
		return nil, fmt.Errorf("decrypt token cache: %w", err)
	}

	var td tokenData
	if err := json.Unmarshal(decrypted, &td); err != nil {
		return nil, fmt.Errorf("unmarshal token cache: %w", err)
	}

	if td.Tokens == nil {
		td.Tokens = make(map[string]string)
	}

	return &td, nil
}

func (c *TokenCache) save(td *tokenData) error {
	plain, err := json.Marshal(td)
	if err != nil {
		return fmt.Errorf("marshal token cache: %w", err)
	}

	encrypted, err := c.encrypt(plain)
	if err != nil {
		return fmt.Errorf("encrypt token cache: %w", err)
	}

	tmp := c.filePath + ".tmp"
	if err := os.WriteFile(tmp, encrypted, tokenFilePerm); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}

	return os.Rename(tmp, c.filePath)
}

func (c *TokenCache) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.password)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *TokenCache) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.password)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("token cache ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	return gcm.Open(nil, nonce, ciphertext, nil)
}
