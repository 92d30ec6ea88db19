// Package recognition issues, verifies, and revokes the guardian-signed
// certificates that make an instance legitimate for a user, and manages
// the rotating operational keys derived from the guardian root.
package recognition

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mirrorlabs/mirror/core/pkg/canonicalize"
	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
)

var (
	// ErrCertNotFound is returned when no certificate exists for the id.
	ErrCertNotFound = errors.New("recognition: certificate not found")
	// ErrAlreadyRevoked is returned on a second revocation of the same
	// certificate. Revocation is monotone, so the first record stands.
	ErrAlreadyRevoked = errors.New("recognition: certificate already revoked")
)

// DefaultStaleAfter is how long an instance may go silent before its
// heartbeat reads as stale. Staleness is informational only.
const DefaultStaleAfter = 72 * time.Hour

// Service is the recognition authority for one guardian key.
type Service struct {
	mu          sync.RWMutex
	keyring     *crypto.Keyring
	certs       map[string]*contracts.RecognitionCertificate
	revocations map[string]contracts.Revocation
	roks        map[string]*contracts.RotatingOperationalKey
	trust       func() []string
	heartbeats  HeartbeatStore
	staleAfter  time.Duration
	clock       func() time.Time
	logger      *slog.Logger
}

// Config wires a Service.
type Config struct {
	Keyring *crypto.Keyring
	// Trust returns the hex guardian public keys accepted as issuers.
	Trust func() []string
	// Heartbeats defaults to the in-memory store.
	Heartbeats HeartbeatStore
	// StaleAfter defaults to 72h.
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// NewService builds the recognition service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Keyring == nil {
		return nil, errors.New("recognition: keyring required")
	}
	if cfg.Trust == nil {
		return nil, errors.New("recognition: trust set required")
	}
	if cfg.Heartbeats == nil {
		cfg.Heartbeats = NewMemoryHeartbeats()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		keyring:     cfg.Keyring,
		certs:       make(map[string]*contracts.RecognitionCertificate),
		revocations: make(map[string]contracts.Revocation),
		roks:        make(map[string]*contracts.RotatingOperationalKey),
		trust:       cfg.Trust,
		heartbeats:  cfg.Heartbeats,
		staleAfter:  cfg.StaleAfter,
		clock:       time.Now,
		logger:      cfg.Logger,
	}, nil
}

// WithClock replaces the time source. Test seam.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Certify issues an active certificate for an instance/user pair, signed
// by the guardian key.
func (s *Service) Certify(instanceID, userID, tier string, ttl time.Duration) (*contracts.RecognitionCertificate, error) {
	if instanceID == "" || userID == "" {
		return nil, errors.New("recognition: instance and user required")
	}
	if ttl <= 0 {
		return nil, errors.New("recognition: ttl must be positive")
	}
	now := s.clock().UTC()
	cert := &contracts.RecognitionCertificate{
		CertID:          uuid.New().String(),
		InstanceID:      instanceID,
		UserID:          userID,
		Tier:            tier,
		IssuedAt:        now,
		ExpiresAt:       now.Add(ttl),
		IssuerPublicKey: hex.EncodeToString(s.keyring.PublicKey()),
		Status:          contracts.CertActive,
	}
	sig, err := s.sign(cert.SignedPayload())
	if err != nil {
		return nil, fmt.Errorf("recognition: sign certificate: %w", err)
	}
	cert.Signature = sig

	s.mu.Lock()
	s.certs[cert.CertID] = cert
	s.mu.Unlock()
	copied := *cert
	return &copied, nil
}

// Verify returns the certificate when it is valid right now: active,
// unexpired, issued by a trusted guardian, signature intact. Every other
// case returns nil; the reason is logged, never surfaced to the caller.
func (s *Service) Verify(certID string) *contracts.RecognitionCertificate {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certs[certID]
	if !ok {
		s.logger.Warn("verification failed", "cert_id", certID, "reason", "not found")
		return nil
	}
	if cert.Status == contracts.CertActive && !s.clock().Before(cert.ExpiresAt) {
		cert.Status = contracts.CertExpired
	}
	if cert.Status != contracts.CertActive {
		s.logger.Warn("verification failed", "cert_id", certID, "reason", string(cert.Status))
		return nil
	}
	if !s.issuerTrusted(cert.IssuerPublicKey) {
		s.logger.Warn("verification failed", "cert_id", certID, "reason", "issuer not trusted")
		return nil
	}
	canon, err := canonicalize.JCS(cert.SignedPayload())
	if err != nil {
		s.logger.Warn("verification failed", "cert_id", certID, "reason", "canonicalization")
		return nil
	}
	if ok, err := crypto.VerifyHex(cert.IssuerPublicKey, cert.Signature, canon); err != nil || !ok {
		s.logger.Warn("verification failed", "cert_id", certID, "reason", "signature invalid")
		return nil
	}
	copied := *cert
	return &copied
}

// Revoke marks a certificate revoked and returns the signed revocation
// record. A second revocation returns the original record with
// ErrAlreadyRevoked.
func (s *Service) Revoke(certID string, cause contracts.RevocationCause, reason, revokedBy string) (contracts.Revocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certs[certID]
	if !ok {
		return contracts.Revocation{}, ErrCertNotFound
	}
	if existing, done := s.revocations[certID]; done {
		return existing, ErrAlreadyRevoked
	}

	rev := contracts.Revocation{
		RevocationID: uuid.New().String(),
		CertID:       certID,
		Cause:        cause,
		Reason:       reason,
		RevokedAt:    s.clock().UTC(),
		RevokedBy:    revokedBy,
	}
	sig, err := s.sign(map[string]any{
		"revocation_id": rev.RevocationID,
		"cert_id":       rev.CertID,
		"cause":         string(rev.Cause),
		"reason":        rev.Reason,
		"revoked_at":    rev.RevokedAt.Format(time.RFC3339Nano),
		"revoked_by":    rev.RevokedBy,
	})
	if err != nil {
		return contracts.Revocation{}, fmt.Errorf("recognition: sign revocation: %w", err)
	}
	rev.Signature = sig

	cert.Status = contracts.CertRevoked
	s.revocations[certID] = rev
	s.logger.Info("certificate revoked",
		"cert_id", certID, "cause", string(cause), "by", revokedBy)
	return rev, nil
}

// RecordHeartbeat stores a liveness ping for an instance.
func (s *Service) RecordHeartbeat(ctx context.Context, instanceID, userID string, metadata map[string]any) error {
	return s.heartbeats.Record(ctx, contracts.Heartbeat{
		InstanceID: instanceID,
		UserID:     userID,
		SeenAt:     s.clock().UTC(),
		Metadata:   metadata,
	})
}

// LastHeartbeat returns the most recent heartbeat and whether it has gone
// stale. A stale or missing heartbeat never triggers revocation.
func (s *Service) LastHeartbeat(ctx context.Context, instanceID, userID string) (contracts.Heartbeat, bool, error) {
	hb, found, err := s.heartbeats.Last(ctx, instanceID, userID)
	if err != nil || !found {
		return contracts.Heartbeat{}, true, err
	}
	stale := s.clock().Sub(hb.SeenAt) > s.staleAfter
	return hb, stale, nil
}

// IssueROK derives a rotating operational key from the guardian root and
// returns the signed public record together with the signer. The signer
// is handed over exactly once; the service keeps no private material.
func (s *Service) IssueROK(ttl time.Duration) (*contracts.RotatingOperationalKey, *crypto.Ed25519Signer, error) {
	if ttl <= 0 {
		return nil, nil, errors.New("recognition: ttl must be positive")
	}
	keyID := uuid.New().String()
	signer, err := s.keyring.DeriveOperational(keyID)
	if err != nil {
		return nil, nil, fmt.Errorf("recognition: derive operational key: %w", err)
	}
	now := s.clock().UTC()
	rok := &contracts.RotatingOperationalKey{
		KeyID:     keyID,
		PublicKey: signer.PublicKey(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Status:    contracts.KeyActive,
	}
	sig, err := s.sign(rok.SignedPayload())
	if err != nil {
		return nil, nil, fmt.Errorf("recognition: sign operational key: %w", err)
	}
	rok.Signature = sig

	s.mu.Lock()
	s.roks[keyID] = rok
	s.mu.Unlock()
	copied := *rok
	return &copied, signer, nil
}

// RevokeROK retires an operational key early.
func (s *Service) RevokeROK(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rok, ok := s.roks[keyID]
	if !ok {
		return fmt.Errorf("recognition: operational key %s not found", keyID)
	}
	rok.Status = contracts.KeyRevoked
	return nil
}

// ValidateROK reports whether an operational key is usable: active,
// unexpired, and carrying a valid guardian signature from the trust set.
func (s *Service) ValidateROK(rok *contracts.RotatingOperationalKey) bool {
	if rok == nil || rok.Status != contracts.KeyActive {
		return false
	}
	if !s.clock().Before(rok.ExpiresAt) {
		return false
	}
	s.mu.RLock()
	if stored, ok := s.roks[rok.KeyID]; ok && stored.Status != contracts.KeyActive {
		s.mu.RUnlock()
		return false
	}
	s.mu.RUnlock()

	canon, err := canonicalize.JCS(rok.SignedPayload())
	if err != nil {
		return false
	}
	for _, key := range s.trust() {
		if ok, err := crypto.VerifyHex(key, rok.Signature, canon); err == nil && ok {
			return true
		}
	}
	return false
}

// Revocation returns the revocation record for a certificate, if any.
func (s *Service) Revocation(certID string) (contracts.Revocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rev, ok := s.revocations[certID]
	return rev, ok
}

func (s *Service) sign(payload map[string]any) (string, error) {
	canon, err := canonicalize.JCS(payload)
	if err != nil {
		return "", err
	}
	sig, err := s.keyring.Sign(canon)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

func (s *Service) issuerTrusted(issuer string) bool {
	for _, key := range s.trust() {
		if key == issuer {
			return true
		}
	}
	return false
}
