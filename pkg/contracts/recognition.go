package contracts

import "time"

// CertStatus is the lifecycle state of a recognition certificate.
type CertStatus string

const (
	CertActive    CertStatus = "active"
	CertSuspended CertStatus = "suspended"
	CertRevoked   CertStatus = "revoked"
	CertExpired   CertStatus = "expired"
)

// RecognitionCertificate is a guardian's signed statement that an instance
// is recognized for a user at a given tier until a given time. Tier is
// opaque metadata; the core does not enforce tier semantics.
type RecognitionCertificate struct {
	CertID          string     `json:"cert_id"`
	InstanceID      string     `json:"instance_id"`
	UserID          string     `json:"user_id"`
	Tier            string     `json:"tier"`
	IssuedAt        time.Time  `json:"issued_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	IssuerPublicKey string     `json:"issuer_public_key"`
	Signature       string     `json:"signature"`
	Status          CertStatus `json:"status"`
}

// SignedPayload returns the canonical-JSON input of the certificate
// signature: the first eight fields, timestamps pinned to RFC3339Nano UTC.
func (c *RecognitionCertificate) SignedPayload() map[string]any {
	return map[string]any{
		"cert_id":             c.CertID,
		"instance_id":         c.InstanceID,
		"user_id":             c.UserID,
		"tier":                c.Tier,
		"issued_at":           c.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at":          c.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"guardian_public_key": c.IssuerPublicKey,
	}
}

// RevocationCause names why a certificate was revoked.
type RevocationCause string

const (
	RevokeConstitutionalViolation RevocationCause = "constitutional_violation"
	RevokePaymentFailure          RevocationCause = "payment_failure"
	RevokeUserRequest             RevocationCause = "user_request"
	RevokeSecurityBreach          RevocationCause = "security_breach"
	RevokeGuardianDiscretion      RevocationCause = "guardian_discretion"
)

// Revocation is the signed record of a certificate revocation. Revocation
// is monotone: once revoked, a certificate is never re-activated.
type Revocation struct {
	RevocationID string          `json:"revocation_id"`
	CertID       string          `json:"cert_id"`
	Cause        RevocationCause `json:"cause"`
	Reason       string          `json:"reason"`
	RevokedAt    time.Time       `json:"revoked_at"`
	RevokedBy    string          `json:"revoked_by"`
	Signature    string          `json:"signature"`
}

// KeyStatus is the lifecycle state of a rotating operational key.
type KeyStatus string

const (
	KeyActive  KeyStatus = "active"
	KeyExpired KeyStatus = "expired"
	KeyRevoked KeyStatus = "revoked"
)

// RotatingOperationalKey is a short-lived signing key chained to a
// long-term guardian key. Day-to-day signing uses an ROK so a compromised
// operational key never compromises the root.
type RotatingOperationalKey struct {
	KeyID     string    `json:"key_id"`
	PublicKey string    `json:"public_key"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    KeyStatus `json:"status"`
	Signature string    `json:"signature"`
}

// SignedPayload returns the canonical-JSON input of the guardian signature
// over the ROK.
func (k *RotatingOperationalKey) SignedPayload() map[string]any {
	return map[string]any{
		"key_id":     k.KeyID,
		"public_key": k.PublicKey,
		"issued_at":  k.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": k.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

// Heartbeat records instance liveness. A missing heartbeat is never grounds
// for revocation; it only surfaces stale state to monitoring.
type Heartbeat struct {
	InstanceID string         `json:"instance_id"`
	UserID     string         `json:"user_id"`
	SeenAt     time.Time      `json:"seen_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
