// internal/credentials/rotator.go
package credentials

import (
	"sync"
	"sync/atomic"

	"quotagate/internal/common/errors"
)

// Credential is one external-provider account identity. For providers that
// require a signed, short-lived access token the secret is a PEM private key
// and KeyID names the signing key.
type Credential struct {
	Service   string
	AccountID string
	KeyID     string
	Secret    string
}

// Rotator hands out credentials round-robin per service. Cycling order is
// configuration order; the cursor is atomic so rotation stays correct if the
// deployment ever goes multi-threaded.
type Rotator struct {
	mu       sync.RWMutex
	services map[string]*pool
}

type pool struct {
	creds  []Credential
	cursor atomic.Int64
}

func NewRotator() *Rotator {
	return &Rotator{services: make(map[string]*pool)}
}

// Add registers a credential for a service, appended in configuration order.
func (r *Rotator) Add(cred Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.services[cred.Service]
	if !ok {
		p = &pool{}
		r.services[cred.Service] = p
	}
	p.creds = append(p.creds, cred)
}

// Next returns the credential at the cursor and advances it modulo the pool
// size.
func (r *Rotator) Next(service string) (Credential, error) {
	r.mu.RLock()
	p, ok := r.services[service]
	r.mu.RUnlock()

	if !ok || len(p.creds) == 0 {
		return Credential{}, errors.NewConfigurationError("no credentials configured for service " + service)
	}

	idx := p.cursor.Add(1) - 1
	return p.creds[int(idx)%len(p.creds)], nil
}

// Size returns how many credentials a service holds.
func (r *Rotator) Size(service string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.services[service]; ok {
		return len(p.creds)
	}
	return 0
}
