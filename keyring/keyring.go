// Package keyring provides secure storage for saved SSH passwords.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/macprox/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "macprox"
	// probeKey is written and removed once to detect a working keyring.
	probeKey = "macprox-test-init"
)

// Common errors returned by keyring operations.
var (
	ErrNotFound = common.ErrCredentialsNotFound
	ErrEmptyKey = errors.New("credential key cannot be empty")
)

// Options configures a Keyring.
type Options struct {
	// Service is the system keyring service name.
	Service string
	// File is the encrypted fallback store.
	File string
	// ForceLocal skips the system keyring entirely.
	ForceLocal bool
	// Secret seeds the fallback encryption key. Empty means a key derived
	// from machine-specific data.
	Secret string
}

// Keyring stores passwords keyed by user@host:port. It implements
// common.CredentialStore.
type Keyring struct {
	mu       sync.RWMutex
	service  string
	file     string
	secret   string
	useLocal bool
	local    map[string]string
	key      []byte
	loaded   bool
}

var _ common.CredentialStore = (*Keyring)(nil)

// New creates a Keyring. Unless ForceLocal is set, it probes the system
// keyring and falls back to the encrypted file when the probe fails.
func New(opts Options) *Keyring {
	k := &Keyring{
		service:  opts.Service,
		file:     opts.File,
		secret:   opts.Secret,
		useLocal: opts.ForceLocal,
	}
	if k.service == "" {
		k.service = serviceName
	}
	if k.file == "" {
		if dir, err := common.GetConfigDir(); err == nil {
			k.file = filepath.Join(dir, common.CredentialsFileName)
		}
	}

	if !k.useLocal {
		if err := keyring.Set(k.service, probeKey, "test"); err != nil {
			common.LogInfo("System keyring unavailable, using encrypted file: %v", err)
			k.useLocal = true
		} else {
			keyring.Delete(k.service, probeKey)
		}
	}
	return k
}

var (
	defaultOnce sync.Once
	defaultRing *Keyring
)

// Default returns the process-wide Keyring, created on first use.
func Default() *Keyring {
	defaultOnce.Do(func() {
		defaultRing = New(Options{})
	})
	return defaultRing
}

// Local reports whether the encrypted file backend is in use.
func (k *Keyring) Local() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.useLocal
}

// ensureLocalLocked loads the fallback store on first use.
func (k *Keyring) ensureLocalLocked() error {
	if k.loaded {
		return nil
	}
	k.local = make(map[string]string)
	k.key = deriveKey(k.secret)
	k.loaded = true

	if k.file == "" {
		return nil
	}
	data, err := os.ReadFile(k.file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	plain, err := decrypt(k.key, data)
	if err != nil {
		// A store written on another machine cannot be opened here; start
		// over instead of refusing every operation.
		common.LogWarn("Ignoring unreadable credentials file: %v", err)
		return nil
	}
	if err := json.Unmarshal(plain, &k.local); err != nil {
		common.LogWarn("Ignoring corrupt credentials file: %v", err)
		k.local = make(map[string]string)
	}
	return nil
}

func (k *Keyring) saveLocalLocked() error {
	if k.file == "" {
		return fmt.Errorf("%w: no credentials file", common.ErrCredentialStorage)
	}
	data, err := json.Marshal(k.local)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	encrypted, err := encrypt(k.key, data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(k.file), 0700); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	if err := os.WriteFile(k.file, encrypted, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialStorage, err)
	}
	return nil
}

// Store saves a password for a connection key.
func (k *Keyring) Store(key, password string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if password == "" {
		return fmt.Errorf("%w: password cannot be empty", common.ErrCredentialStorage)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.useLocal {
		err := keyring.Set(k.service, key, password)
		if err == nil {
			return nil
		}
		common.LogWarn("System keyring write failed, falling back to encrypted file: %v", err)
		k.useLocal = true
	}

	if err := k.ensureLocalLocked(); err != nil {
		return err
	}
	k.local[key] = password
	return k.saveLocalLocked()
}

// Get retrieves the password for a connection key.
func (k *Keyring) Get(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.useLocal {
		password, err := keyring.Get(k.service, key)
		if err == nil {
			return password, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			common.LogDebug("System keyring read failed: %v", err)
		}
	}

	// Passwords saved during an earlier fallback live in the file.
	if err := k.ensureLocalLocked(); err != nil {
		return "", err
	}
	if password, ok := k.local[key]; ok {
		return password, nil
	}
	return "", ErrNotFound
}

// Delete removes the password for a connection key from both backends.
func (k *Keyring) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.useLocal {
		if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			common.LogDebug("System keyring delete failed: %v", err)
		}
	}

	if err := k.ensureLocalLocked(); err != nil {
		return err
	}
	if _, ok := k.local[key]; !ok {
		return nil
	}
	delete(k.local, key)
	return k.saveLocalLocked()
}

// Exists checks if a credential exists for a connection key.
func (k *Keyring) Exists(key string) bool {
	_, err := k.Get(key)
	return err == nil
}


// deriveKey turns secret, or machine-specific data when secret is empty,
// into a 256-bit key.
func deriveKey(secret string) []byte {
	if secret == "" {
		hostname, _ := os.Hostname()
		secret = fmt.Sprintf("%s-%s-%s-%d", serviceName, hostname, getMachineID(), os.Getuid())
	}
	r := hkdf.New(sha256.New, []byte(secret), []byte(serviceName), []byte("credentials"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails past 255 blocks of output.
		panic(err)
	}
	return key
}

func getMachineID() string {
	// Try to read machine-id
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	// Fallback
	return "default-machine-id"
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plain, nil
}
