package marketplace

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// manifestFingerprint is hashed over the attestable portion of a
// Capability manifest (everything except the Attestation itself and the
// non-serializable Handler/Dispatch closures), matching spec.md §4.4 step
// 4's "content hash of the manifest match known-good values". Shares the
// blake2b hashing primitive with the causal chain (SPEC_FULL.md domain
// stack, golang.org/x/crypto).
type manifestFingerprint struct {
	ID           string `json:"id"`
	Version      string `json:"version"`
	ProviderKind string `json:"provider_kind"`
	InputSchema  string `json:"input_schema"`
	OutputSchema string `json:"output_schema"`
}

func hashManifest(c Capability) (string, error) {
	fp := manifestFingerprint{
		ID:           c.ID,
		Version:      c.Version,
		ProviderKind: c.Provider.Kind.String(),
		InputSchema:  c.InputSchema.String(),
		OutputSchema: c.OutputSchema.String(),
	}
	raw, err := json.Marshal(fp)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyAttestation checks that a capability's recorded manifest hash
// matches its current manifest content and that the signature over that
// hash verifies under the claimed signer key (spec.md §4.4 step 4). A
// capability with no Attestation is accepted unverified — attestation is
// opt-in per manifest.
func VerifyAttestation(c Capability) error {
	if c.Attestation == nil {
		return nil
	}
	a := c.Attestation

	wantHash, err := hashManifest(c)
	if err != nil {
		return rtfserrors.Wrap("marketplace.VerifyAttestation", rtfserrors.KindAttestationFailure, err)
	}
	if wantHash != a.ManifestHash {
		return rtfserrors.Newf("marketplace.VerifyAttestation", rtfserrors.KindAttestationFailure,
			"manifest hash mismatch for capability %q: recorded attestation does not match current manifest", c.ID)
	}
	if len(a.SignerPublicKey) != ed25519.PublicKeySize {
		return rtfserrors.Newf("marketplace.VerifyAttestation", rtfserrors.KindAttestationFailure,
			"invalid signer public key length for capability %q", c.ID)
	}
	if !ed25519.Verify(ed25519.PublicKey(a.SignerPublicKey), []byte(a.ManifestHash), a.Signature) {
		return rtfserrors.Newf("marketplace.VerifyAttestation", rtfserrors.KindAttestationFailure,
			"signature verification failed for capability %q", c.ID)
	}
	return nil
}

// Attest produces a fresh Attestation for a manifest, signing the
// manifest hash with priv. Used by registration tooling and tests; the
// production signing key itself is held in a memguard.LockedBuffer by
// the causal chain's signer (causalchain/sign.go) and never lives in a
// plain byte slice for longer than this call.
func Attest(c Capability, providerIdentity string, priv ed25519.PrivateKey) (*Attestation, error) {
	hash, err := hashManifest(c)
	if err != nil {
		return nil, rtfserrors.Wrap("marketplace.Attest", rtfserrors.KindAttestationFailure, err)
	}
	sig := ed25519.Sign(priv, []byte(hash))
	pub := priv.Public().(ed25519.PublicKey)
	return &Attestation{
		ProviderIdentity: providerIdentity,
		ManifestHash:     hash,
		Signature:        sig,
		SignerPublicKey:  []byte(pub),
	}, nil
}
