package recognition

import (
	"context"
	"encoding/hex"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
)

type testHarness struct {
	service *Service
	keyring *crypto.Keyring
	now     time.Time
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	provider, err := crypto.NewMemoryKeyProvider()
	require.NoError(t, err)
	keyring, err := crypto.NewKeyring(provider)
	require.NoError(t, err)

	guardian := hex.EncodeToString(keyring.PublicKey())
	service, err := NewService(Config{
		Keyring: keyring,
		Trust:   func() []string { return []string{guardian} },
		Logger:  slog.Default(),
	})
	require.NoError(t, err)

	h := &testHarness{
		service: service,
		keyring: keyring,
		now:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	service.WithClock(func() time.Time { return h.now })
	return h
}

func TestCertifyAndVerify(t *testing.T) {
	h := newHarness(t)
	cert, err := h.service.Certify("i1", "u1", "standard", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, contracts.CertActive, cert.Status)
	assert.NotEmpty(t, cert.Signature)

	got := h.service.Verify(cert.CertID)
	require.NotNil(t, got)
	assert.Equal(t, cert.CertID, got.CertID)
	assert.Equal(t, "standard", got.Tier)
}

func TestVerifyUnknownCert(t *testing.T) {
	h := newHarness(t)
	assert.Nil(t, h.service.Verify("no-such-cert"))
}

func TestVerifyExpiredCert(t *testing.T) {
	h := newHarness(t)
	cert, err := h.service.Certify("i1", "u1", "standard", time.Hour)
	require.NoError(t, err)

	h.now = h.now.Add(2 * time.Hour)
	assert.Nil(t, h.service.Verify(cert.CertID))
}

func TestVerifyUntrustedIssuer(t *testing.T) {
	provider, err := crypto.NewMemoryKeyProvider()
	require.NoError(t, err)
	keyring, err := crypto.NewKeyring(provider)
	require.NoError(t, err)

	// Trust set holds a different guardian than the one signing.
	service, err := NewService(Config{
		Keyring: keyring,
		Trust:   func() []string { return []string{"aa11"} },
	})
	require.NoError(t, err)

	cert, err := service.Certify("i1", "u1", "standard", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, service.Verify(cert.CertID))
}

func TestRevocationIsMonotone(t *testing.T) {
	h := newHarness(t)
	cert, err := h.service.Certify("i1", "u1", "standard", 24*time.Hour)
	require.NoError(t, err)

	rev, err := h.service.Revoke(cert.CertID, contracts.RevokeUserRequest, "user asked", "guardian-1")
	require.NoError(t, err)
	assert.Equal(t, cert.CertID, rev.CertID)
	assert.NotEmpty(t, rev.Signature)

	// The revoked certificate no longer verifies.
	assert.Nil(t, h.service.Verify(cert.CertID))

	// A second revocation returns the original record.
	again, err := h.service.Revoke(cert.CertID, contracts.RevokeGuardianDiscretion, "changed mind", "guardian-2")
	assert.ErrorIs(t, err, ErrAlreadyRevoked)
	assert.Equal(t, rev.RevocationID, again.RevocationID)

	stored, ok := h.service.Revocation(cert.CertID)
	require.True(t, ok)
	assert.Equal(t, contracts.RevokeUserRequest, stored.Cause)
}

func TestRevokeUnknownCert(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Revoke("missing", contracts.RevokeSecurityBreach, "", "g")
	assert.ErrorIs(t, err, ErrCertNotFound)
}

func TestHeartbeatFreshAndStale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.RecordHeartbeat(ctx, "i1", "u1", map[string]any{"version": "1.2.0"}))

	hb, stale, err := h.service.LastHeartbeat(ctx, "i1", "u1")
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, "i1", hb.InstanceID)

	h.now = h.now.Add(DefaultStaleAfter + time.Minute)
	_, stale, err = h.service.LastHeartbeat(ctx, "i1", "u1")
	require.NoError(t, err)
	assert.True(t, stale)

	// Staleness never touches certificate state.
	cert, err := h.service.Certify("i1", "u1", "standard", 200*time.Hour)
	require.NoError(t, err)
	assert.NotNil(t, h.service.Verify(cert.CertID))
}

func TestHeartbeatMissingReadsStale(t *testing.T) {
	h := newHarness(t)
	_, stale, err := h.service.LastHeartbeat(context.Background(), "i9", "u9")
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestIssueAndValidateROK(t *testing.T) {
	h := newHarness(t)
	rok, signer, err := h.service.IssueROK(time.Hour)
	require.NoError(t, err)
	require.NotNil(t, signer)
	assert.Equal(t, rok.PublicKey, signer.PublicKey())
	assert.Equal(t, contracts.KeyActive, rok.Status)

	assert.True(t, h.service.ValidateROK(rok))

	// Derivation is deterministic per key id.
	again, err := h.keyring.DeriveOperational(rok.KeyID)
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKey(), again.PublicKey())
}

func TestValidateROKRejections(t *testing.T) {
	h := newHarness(t)
	rok, _, err := h.service.IssueROK(time.Hour)
	require.NoError(t, err)

	expired := *rok
	h.now = h.now.Add(2 * time.Hour)
	assert.False(t, h.service.ValidateROK(&expired))
	h.now = h.now.Add(-2 * time.Hour)

	tampered := *rok
	tampered.PublicKey = "00" + tampered.PublicKey[2:]
	assert.False(t, h.service.ValidateROK(&tampered))

	require.NoError(t, h.service.RevokeROK(rok.KeyID))
	assert.False(t, h.service.ValidateROK(rok))

	assert.False(t, h.service.ValidateROK(nil))
}

func TestMemoryHeartbeatsRequiresIdentity(t *testing.T) {
	store := NewMemoryHeartbeats()
	err := store.Record(context.Background(), contracts.Heartbeat{InstanceID: "i1"})
	require.Error(t, err)
}
