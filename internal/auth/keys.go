package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"sync"
)

// DefaultKeySize is the RSA modulus size used when none is configured.
const DefaultKeySize = 2048

// minKeySize guards against configurations too weak for RS256.
const minKeySize = 2048

// KeyManager owns the process-wide signing keypair. It is constructed empty
// by the process root, generates key material exactly once, and is read-only
// afterwards, so no locking is needed on the verification path. Regenerating
// mid-lifetime would invalidate every token signed so far, which is why a
// second Generate fails instead of silently replacing the keys.
type KeyManager struct {
	mu      sync.Mutex
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// NewKeyManager returns an uninitialized manager. Generate must be called
// before the first token is signed or verified.
func NewKeyManager() *KeyManager {
	return &KeyManager{}
}

// Generate creates the RSA keypair. Size zero selects DefaultKeySize.
// Calling Generate on an already-initialized manager fails with
// ErrKeysAlreadyInitialized.
func (m *KeyManager) Generate(size int) error {
	if size == 0 {
		size = DefaultKeySize
	}
	if size < minKeySize {
		return fmt.Errorf("auth: key size %d below minimum %d", size, minKeySize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.private != nil {
		return ErrKeysAlreadyInitialized
	}

	key, err := rsa.GenerateKey(rand.Reader, size)
	if err != nil {
		return fmt.Errorf("auth: generate keypair: %w", err)
	}
	m.private = key
	m.public = &key.PublicKey
	return nil
}

// PrivateKey returns the signing key, or ErrKeysNotInitialized before Generate.
func (m *KeyManager) PrivateKey() (*rsa.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.private == nil {
		return nil, ErrKeysNotInitialized
	}
	return m.private, nil
}

// PublicKey returns the verification key, or ErrKeysNotInitialized before Generate.
func (m *KeyManager) PublicKey() (*rsa.PublicKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.public == nil {
		return nil, ErrKeysNotInitialized
	}
	return m.public, nil
}

// PrivateKeyPEM exports the private key in PKCS#8 PEM encoding.
func (m *KeyManager) PrivateKeyPEM() ([]byte, error) {
	key, err := m.PrivateKey()
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("auth: encode private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKeyPEM exports the public key in PKIX PEM encoding, suitable for
// publication at a discovery endpoint.
func (m *KeyManager) PublicKeyPEM() ([]byte, error) {
	key, err := m.PublicKey()
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("auth: encode public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
