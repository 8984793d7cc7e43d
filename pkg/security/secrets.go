package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/nsu-agent/pkg/metrics"
	"github.com/cuemby/nsu-agent/pkg/types"
)

// SecretManager holds the currently installed master key for one key kind
// (container-token or node-token) and uses it to seal/open token payloads
// with AES-256-GCM. Installation is latest-wins: SetMasterKey always
// replaces whatever key was previously installed, mirroring the
// containerTokenSecretManager/nmTokenSecretManager pair the controller
// keeps rotated independently.
type SecretManager struct {
	kind types.MasterKeyKind

	mu  sync.RWMutex
	key *types.MasterKey
}

// NewSecretManager creates a manager for the given key kind with no key
// installed. EncryptSecret/DecryptSecret return an error until a key
// arrives from the controller.
func NewSecretManager(kind types.MasterKeyKind) *SecretManager {
	return &SecretManager{kind: kind}
}

// SetMasterKey installs key as the active key, discarding whichever key was
// installed before it. A nil key is a no-op: the controller only sends a
// master key on the heartbeat or registration response that actually
// rotates it.
func (sm *SecretManager) SetMasterKey(key *types.MasterKey) {
	if key == nil {
		return
	}
	sm.mu.Lock()
	sm.key = key
	sm.mu.Unlock()
	metrics.MasterKeyRotationsTotal.WithLabelValues(string(sm.kind)).Inc()
}

// CurrentKeyID returns the KeyID of the installed key, or -1 if none has
// been installed yet.
func (sm *SecretManager) CurrentKeyID() int64 {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.key == nil {
		return -1
	}
	return sm.key.KeyID
}

func (sm *SecretManager) currentKeyBytes() ([]byte, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.key == nil {
		return nil, fmt.Errorf("security: no %s master key installed yet", sm.kind)
	}
	return sm.key.Bytes, nil
}

// EncryptSecret seals plaintext under the currently installed master key,
// using AES-256-GCM with a random nonce prepended to the ciphertext.
func (sm *SecretManager) EncryptSecret(plaintext []byte) ([]byte, error) {
	key, err := sm.currentKeyBytes()
	if err != nil {
		return nil, err
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: cannot encrypt empty data")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptSecret opens data sealed by EncryptSecret under the currently
// installed master key.
func (sm *SecretManager) DecryptSecret(ciphertext []byte) ([]byte, error) {
	key, err := sm.currentKeyBytes()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: cannot decrypt empty data")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("security: ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: failed to decrypt: %w", err)
	}

	return plaintext, nil
}
