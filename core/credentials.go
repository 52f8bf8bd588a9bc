package core

// credentials.go – signed capability claims and endorsements.
//
// Uses stdlib crypto/ed25519 directly, the same branch the reference's
// core/security.go Sign/Verify takes for its Ed25519 case; no BLS/threshold
// signing is needed here since cryptographic consensus is out of scope.

import (
	"crypto/ed25519"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CredentialVerifyError enumerates the distinct verification failure
// reasons names.
type CredentialVerifyError string

const (
	VerifySignatureInvalid CredentialVerifyError = "signature_invalid"
	VerifyExpired CredentialVerifyError = "expired"
	VerifyIssuerNotTrusted CredentialVerifyError = "issuer_not_trusted"
	VerifyInsufficientEndorsements CredentialVerifyError = "insufficient_endorsements"
)

// CredentialVerifier issues and verifies capability claims.
type CredentialVerifier struct {
	trustedIssuers map[NodeID]ed25519.PublicKey
	requireCredentials bool
	minEndorsements int
}

// NewCredentialVerifier builds a verifier that trusts the given issuer
// public keys.
func NewCredentialVerifier(trusted map[NodeID]ed25519.PublicKey, requireCredentials bool, minEndorsements int) *CredentialVerifier {
	return &CredentialVerifier{trustedIssuers: trusted, requireCredentials: requireCredentials, minEndorsements: minEndorsements}
}

// canonical builds the signed canonical form: credential_id|issuer|subject|
// sorted(capabilities)|issued_at|expires_at.
func canonical(credentialID string, issuer, subject NodeID, capabilities []string, issuedAt, expiresAt time.Time) []byte {
	sorted := append([]string(nil), capabilities...)
	sort.Strings(sorted)
	parts := []string{
		credentialID,
		string(issuer),
		string(subject),
		strings.Join(sorted, ","),
		issuedAt.UTC().Format(time.RFC3339Nano),
		expiresAt.UTC().Format(time.RFC3339Nano),
	}
	return []byte(strings.Join(parts, "|"))
}

// IssueCredential builds and signs a credential asserting subject has
// capabilities, valid for ttl, signed by issuerKey on behalf of issuer.
func IssueCredential(issuer NodeID, issuerKey ed25519.PrivateKey, subject NodeID, capabilities []string, ttl time.Duration) Credential {
	now := time.Now()
	expires := now.Add(ttl)
	id := uuid.New().String()
	sig := ed25519.Sign(issuerKey, canonical(id, issuer, subject, capabilities, now, expires))
	return Credential{
		CredentialID: id,
		Issuer: issuer,
		Subject: subject,
		Capabilities: capabilities,
		IssuedAt: now,
		ExpiresAt: expires,
		Signature: sig,
	}
}

// Endorse adds an independent endorsement signature over (claim-id,
// endorser-id) to cred.
func Endorse(cred Credential, endorserID NodeID, endorserKey ed25519.PrivateKey) Credential {
	msg := []byte(cred.CredentialID + "|" + string(endorserID))
	cred.Endorsements = append(cred.Endorsements, Endorsement{
		EndorserID: endorserID,
		Signature: ed25519.Sign(endorserKey, msg),
	})
	return cred
}

// Verify checks issuer trust, the issuer signature, expiry, and endorsement
// signatures. It returns the first failure reason encountered, checked in
// that order.
func (v *CredentialVerifier) Verify(cred Credential, endorserKeys map[NodeID]ed25519.PublicKey) (bool, CredentialVerifyError) {
	issuerKey, trusted := v.trustedIssuers[cred.Issuer]
	if !trusted {
		return false, VerifyIssuerNotTrusted
	}
	msg := canonical(cred.CredentialID, cred.Issuer, cred.Subject, cred.Capabilities, cred.IssuedAt, cred.ExpiresAt)
	if !ed25519.Verify(issuerKey, msg, cred.Signature) {
		return false, VerifySignatureInvalid
	}
	if time.Now().After(cred.ExpiresAt) {
		return false, VerifyExpired
	}
	validEndorsements := 0
	for _, e := range cred.Endorsements {
		key, ok := endorserKeys[e.EndorserID]
		if !ok {
			continue
		}
		endorseMsg := []byte(cred.CredentialID + "|" + string(e.EndorserID))
		if ed25519.Verify(key, endorseMsg, e.Signature) {
			validEndorsements++
		}
	}
	if validEndorsements < v.minEndorsements {
		return false, VerifyInsufficientEndorsements
	}
	return true, ""
}

// RequireCredentials reports whether handshake should reject peers without a
// valid credential.
func (v *CredentialVerifier) RequireCredentials() bool {
	return v.requireCredentials
}

// HasValidCredential reports whether identity carries at least one
// credential that verifies successfully.
func (v *CredentialVerifier) HasValidCredential(identity Identity, endorserKeys map[NodeID]ed25519.PublicKey) bool {
	for _, c := range identity.Credentials {
		if ok, _ := v.Verify(c, endorserKeys); ok {
			return true
		}
	}
	return false
}
