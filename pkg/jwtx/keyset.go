package jwtx

import (
	"fmt"

	"github.com/parclabs/keygate/pkg/cryptox"
	"github.com/parclabs/keygate/pkg/idx"
)

// KeySet holds the active signing key and every public key still
// valid for verification.
type KeySet struct {
	signer Signer
	public map[string]any
}

// NewEphemeralKeySet generates a fresh signing key for the given
// algorithm. Tokens signed by a previous process instance stop
// verifying after restart, which is acceptable for short lived access
// tokens.
func NewEphemeralKeySet(alg string) (*KeySet, error) {
	kid := idx.New()

	var s Signer
	switch alg {
	case "RS256":
		key, err := cryptox.GenerateRSAKey(2048)
		if err != nil {
			return nil, err
		}
		s = NewRS256Signer(key, kid)
	case "ES256":
		key, err := cryptox.GenerateES256Key()
		if err != nil {
			return nil, err
		}
		s = NewES256Signer(key, kid)
	case "EdDSA":
		key, err := cryptox.GenerateEd25519Key()
		if err != nil {
			return nil, err
		}
		s = NewEdDSASigner(key, kid)
	default:
		return nil, fmt.Errorf("jwtx: unsupported signing algorithm %q", alg)
	}

	return &KeySet{
		signer: s,
		public: map[string]any{kid: s.PublicKey()},
	}, nil
}

// Signer returns the active signing key.
func (ks *KeySet) Signer() Signer { return ks.signer }

// VerificationKeys returns the public keys by kid, for building a
// Verifier.
func (ks *KeySet) VerificationKeys() map[string]any {
	out := make(map[string]any, len(ks.public))
	for kid, key := range ks.public {
		out[kid] = key
	}
	return out
}
