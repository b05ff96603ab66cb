package auth

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Phase executors (agent crews, import jobs) authenticate their callbacks
// with a per-tenant API key. Only the bcrypt hash is stored.

// HashAPIKey hashes an executor API key using bcrypt
func HashAPIKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(bytes), err
}

// VerifyAPIKey compares a presented API key with a stored hash
func VerifyAPIKey(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// ValidateAPIKeyFormat checks the "mh_<tenant>_<secret>" shape before any
// hashing work is done.
func ValidateAPIKeyFormat(key string) error {
	if len(key) < 16 || len(key) > 128 {
		return errors.New("api key must be between 16 and 128 characters")
	}
	if !strings.HasPrefix(key, "mh_") {
		return errors.New("api key must start with 'mh_'")
	}
	return nil
}

type registeredKey struct {
	subTenantID string
	hash        string
}

// APIKeyRegistry maps tenants to their executor API key hashes. One key
// per tenant; the tenant is read from the key itself ("mh_<tenant>_...")
// so a lookup never scans all hashes.
type APIKeyRegistry struct {
	mu   sync.RWMutex
	keys map[string]registeredKey
}

// NewAPIKeyRegistry creates an empty registry
func NewAPIKeyRegistry() *APIKeyRegistry {
	return &APIKeyRegistry{keys: make(map[string]registeredKey)}
}

// Register stores the bcrypt hash of a tenant's executor key. A second
// call for the same tenant replaces the previous hash (key rotation).
func (r *APIKeyRegistry) Register(tenantID, subTenantID, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[tenantID] = registeredKey{subTenantID: subTenantID, hash: hash}
}

// Resolve validates a presented executor API key and returns the tenant
// scope it is bound to. The tenant segment must not contain underscores;
// everything after the second underscore is the secret.
func (r *APIKeyRegistry) Resolve(key string) (tenantID, subTenantID string, ok bool) {
	if ValidateAPIKeyFormat(key) != nil {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(key, "mh_"), "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}

	r.mu.RLock()
	entry, found := r.keys[parts[0]]
	r.mu.RUnlock()
	if !found || !VerifyAPIKey(key, entry.hash) {
		return "", "", false
	}
	return parts[0], entry.subTenantID, true
}
