package core

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func TestCredentialVerifyRoundTrip(t *testing.T) {
	issuerPub, issuerPriv, _ := ed25519.GenerateKey(nil)
	verifier := NewCredentialVerifier(map[NodeID]ed25519.PublicKey{"issuer": issuerPub}, true, 0)

	cred := IssueCredential("issuer", issuerPriv, "subject", []string{"shell-exec"}, time.Hour)
	ok, reason := verifier.Verify(cred, nil)
	if !ok {
		t.Fatalf("expected valid credential, got reason %s", reason)
	}
}

func TestCredentialVerifyUntrustedIssuer(t *testing.T) {
	_, issuerPriv, _ := ed25519.GenerateKey(nil)
	verifier := NewCredentialVerifier(nil, true, 0)

	cred := IssueCredential("issuer", issuerPriv, "subject", nil, time.Hour)
	ok, reason := verifier.Verify(cred, nil)
	if ok || reason != VerifyIssuerNotTrusted {
		t.Fatalf("expected issuer_not_trusted, got ok=%v reason=%s", ok, reason)
	}
}

func TestCredentialVerifyExpired(t *testing.T) {
	issuerPub, issuerPriv, _ := ed25519.GenerateKey(nil)
	verifier := NewCredentialVerifier(map[NodeID]ed25519.PublicKey{"issuer": issuerPub}, true, 0)

	cred := IssueCredential("issuer", issuerPriv, "subject", nil, -time.Minute)
	ok, reason := verifier.Verify(cred, nil)
	if ok || reason != VerifyExpired {
		t.Fatalf("expected expired, got ok=%v reason=%s", ok, reason)
	}
}

func TestCredentialVerifyInsufficientEndorsements(t *testing.T) {
	issuerPub, issuerPriv, _ := ed25519.GenerateKey(nil)
	endorserPub, endorserPriv, _ := ed25519.GenerateKey(nil)
	verifier := NewCredentialVerifier(map[NodeID]ed25519.PublicKey{"issuer": issuerPub}, true, 2)

	cred := IssueCredential("issuer", issuerPriv, "subject", nil, time.Hour)
	cred = Endorse(cred, "endorser-1", endorserPriv)

	ok, reason := verifier.Verify(cred, map[NodeID]ed25519.PublicKey{"endorser-1": endorserPub})
	if ok || reason != VerifyInsufficientEndorsements {
		t.Fatalf("expected insufficient_endorsements with one endorsement against a floor of two, got ok=%v reason=%s", ok, reason)
	}
}

func TestCredentialVerifyTamperedSignature(t *testing.T) {
	issuerPub, issuerPriv, _ := ed25519.GenerateKey(nil)
	verifier := NewCredentialVerifier(map[NodeID]ed25519.PublicKey{"issuer": issuerPub}, true, 0)

	cred := IssueCredential("issuer", issuerPriv, "subject", []string{"deploy"}, time.Hour)
	cred.Capabilities = append(cred.Capabilities, "shell-exec")

	ok, reason := verifier.Verify(cred, nil)
	if ok || reason != VerifySignatureInvalid {
		t.Fatalf("expected signature_invalid after tampering with capabilities, got ok=%v reason=%s", ok, reason)
	}
}
