package cep

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// Receipt is a hash-addressed, optionally signed record of a state transition.
// The canonical JSON hash makes it independently verifiable even when no
// signing key was configured; the signature, when present, is ed25519 over the
// raw digest bytes.
type Receipt struct {
	ReceiptID           string     `json:"receipt_id"`
	EntityKind          EntityKind `json:"entity_kind"`
	EntityID            string     `json:"entity_id"`
	Schema              string     `json:"schema"`
	CanonicalJSONSHA256 string     `json:"canonical_json_sha256"`
	Signature           string     `json:"signature,omitempty"`
	SignerPublicKey     string     `json:"signer_public_key,omitempty"`
	CreatedAtUnix       int64      `json:"created_at_unix"`
}

// Signer signs receipt digests with a fixed ed25519 key.
// A nil *Signer is valid and produces unsigned, hash-addressed receipts.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewSigner builds a signer from a 32-byte hex-encoded ed25519 seed.
func NewSigner(seedHex string) (*Signer, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("signing seed is not valid hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKeyHex returns the hex-encoded public key, or "" for a nil signer.
func (s *Signer) PublicKeyHex() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s.pub)
}

// Sign signs a hex digest and returns the hex-encoded signature.
// Returns ("", nil) for a nil signer.
func (s *Signer) Sign(digestHex string) (string, error) {
	if s == nil {
		return "", nil
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return "", fmt.Errorf("digest is not valid hex: %w", err)
	}
	return hex.EncodeToString(ed25519.Sign(s.priv, digest)), nil
}

// BuildReceipt issues a receipt over a payload's canonical form.
// The receipt ID is derived from the payload fingerprint, so re-issuing a
// receipt for the same payload yields the same receipt.
func BuildReceipt(kind EntityKind, entityID, schema string, payload any, signer *Signer, nowUnix int64) (*Receipt, error) {
	digest, err := Fingerprint(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint receipt payload: %w", err)
	}

	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign receipt digest: %w", err)
	}

	return &Receipt{
		ReceiptID:           EntityID(PrefixReceipt, digest),
		EntityKind:          kind,
		EntityID:            entityID,
		Schema:              schema,
		CanonicalJSONSHA256: digest,
		Signature:           sig,
		SignerPublicKey:     signer.PublicKeyHex(),
		CreatedAtUnix:       nowUnix,
	}, nil
}

// VerifyReceipt checks a receipt against the payload it claims to cover:
// the canonical hash must match and, when a signature is present, it must
// verify against the embedded public key.
func VerifyReceipt(r *Receipt, payload any) error {
	digest, err := Fingerprint(payload)
	if err != nil {
		return fmt.Errorf("failed to fingerprint payload: %w", err)
	}
	if digest != r.CanonicalJSONSHA256 {
		return fmt.Errorf("canonical hash mismatch: payload %s, receipt %s", digest, r.CanonicalJSONSHA256)
	}
	if r.Signature == "" {
		return nil
	}
	return VerifySignature(r.SignerPublicKey, r.CanonicalJSONSHA256, r.Signature)
}

// VerifySignature checks an ed25519 signature over a hex digest.
func VerifySignature(publicKeyHex, digestHex, signatureHex string) error {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid signer public key")
	}
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return fmt.Errorf("invalid digest encoding")
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature encoding")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), digest, sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}
