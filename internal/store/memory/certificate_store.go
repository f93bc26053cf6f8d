package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/signoff/internal/store"
)

// CertificateStore is an in-memory revocation registry for development and testing
type CertificateStore struct {
	mu                 sync.RWMutex
	certs              map[string]*store.CertMetadata // indexed by serial number
	certsByFingerprint map[string]*store.CertMetadata
}

func NewCertificateStore() *CertificateStore {
	return &CertificateStore{
		certs:              make(map[string]*store.CertMetadata),
		certsByFingerprint: make(map[string]*store.CertMetadata),
	}
}

func (s *CertificateStore) Get(ctx context.Context, serialNumber string) (*store.CertMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, exists := s.certs[serialNumber]
	if !exists {
		return nil, store.ErrCertNotFound
	}
	return copyCert(cert), nil
}

func (s *CertificateStore) GetByFingerprint(ctx context.Context, fingerprint string) (*store.CertMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, exists := s.certsByFingerprint[fingerprint]
	if !exists {
		return nil, store.ErrCertNotFound
	}
	return copyCert(cert), nil
}

func (s *CertificateStore) Register(ctx context.Context, cert *store.CertMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.certs[cert.SerialNumber]; exists {
		return store.ErrCertAlreadyExists
	}

	stored := copyCert(cert)
	s.certs[cert.SerialNumber] = stored
	if cert.Fingerprint != "" {
		s.certsByFingerprint[cert.Fingerprint] = stored
	}
	return nil
}

func (s *CertificateStore) Revoke(ctx context.Context, serialNumber string, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, exists := s.certs[serialNumber]
	if !exists {
		return store.ErrCertNotFound
	}

	// first revocation time wins
	if cert.Revoked {
		return nil
	}
	at = at.UTC()
	cert.Revoked = true
	cert.RevokedAt = &at
	cert.RevocationReason = reason
	return nil
}

// List returns certificates ordered by serial number
func (s *CertificateStore) List(ctx context.Context, opts store.ListCertificatesOptions) ([]*store.CertMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*store.CertMetadata{}
	for _, cert := range s.certs {
		if cert.Revoked && !opts.IncludeRevoked {
			continue
		}
		if opts.IssuerDN != "" && cert.IssuerDN != opts.IssuerDN {
			continue
		}
		result = append(result, copyCert(cert))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].SerialNumber < result[j].SerialNumber
	})
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func copyCert(cert *store.CertMetadata) *store.CertMetadata {
	c := *cert
	if cert.RevokedAt != nil {
		t := *cert.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
