package causalchain

import (
	"crypto/ed25519"
	"encoding/hex"

	"github.com/awnumar/memguard"

	"github.com/ccos-run/ccos/pkg/rtfserrors"
)

// Signer holds the node's Ed25519 signing key in a mlocked buffer
// (github.com/awnumar/memguard) so it is never paged to disk or left in a
// GC-copyable plain byte slice, grounded on
// jinterlante1206-AleutianLocal/services/orchestrator/handlers/secure_accumulator.go's
// memguard.NewBuffer/LockedBuffer usage for sensitive in-memory secrets.
type Signer struct {
	keyBuf *memguard.LockedBuffer
	pub    ed25519.PublicKey
}

// NewSigner generates a fresh Ed25519 keypair and locks the private key.
func NewSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, rtfserrors.Wrap("causalchain.NewSigner", rtfserrors.KindStorageError, err)
	}
	return newSignerFromKey(pub, priv)
}

// LoadSigner builds a Signer from an existing Ed25519 private key, e.g. one
// read from a secrets manager at startup.
func LoadSigner(priv ed25519.PrivateKey) (*Signer, error) {
	pub := priv.Public().(ed25519.PublicKey)
	return newSignerFromKey(pub, priv)
}

func newSignerFromKey(pub ed25519.PublicKey, priv ed25519.PrivateKey) (*Signer, error) {
	buf := memguard.NewBuffer(len(priv))
	if buf == nil {
		return nil, rtfserrors.New("causalchain.NewSigner", rtfserrors.KindStorageError, "failed to allocate locked buffer for signing key")
	}
	buf.Melt()
	copy(buf.Bytes(), priv)
	buf.Freeze()
	return &Signer{keyBuf: buf, pub: append(ed25519.PublicKey(nil), pub...)}, nil
}

// PublicKey returns the verification key, safe to share with any verifier.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Sign produces a hex-encoded signature over a content hash.
func (s *Signer) Sign(contentHash string) string {
	sig := ed25519.Sign(ed25519.PrivateKey(s.keyBuf.Bytes()), []byte(contentHash))
	return hex.EncodeToString(sig)
}

// Destroy wipes the locked key buffer; call once the signer is no longer
// needed (process shutdown).
func (s *Signer) Destroy() { s.keyBuf.Destroy() }

// Verify checks a hex-encoded signature over a content hash under pub.
func Verify(pub ed25519.PublicKey, contentHash, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(contentHash), sig)
}
