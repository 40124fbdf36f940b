package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

// JWK is a single public key in JWK form. Only the members needed for
// the key types we issue are present.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is the document served from the jwks_uri.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWKS renders the key set's public keys for publication.
func (ks *KeySet) JWKS() (*JWKS, error) {
	doc := &JWKS{Keys: make([]JWK, 0, len(ks.public))}
	for kid, key := range ks.public {
		jwk, err := publicJWK(kid, key)
		if err != nil {
			return nil, err
		}
		if ks.signer != nil && ks.signer.KeyID() == kid {
			jwk.Alg = ks.signer.Alg()
		}
		doc.Keys = append(doc.Keys, jwk)
	}
	return doc, nil
}

func publicJWK(kid string, key any) (JWK, error) {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return JWK{
			Kty: "RSA",
			Kid: kid,
			Use: "sig",
			N:   b64BigInt(k.N),
			E:   b64BigInt(big.NewInt(int64(k.E))),
		}, nil
	case *ecdsa.PublicKey:
		size := (k.Curve.Params().BitSize + 7) / 8
		return JWK{
			Kty: "EC",
			Kid: kid,
			Use: "sig",
			Crv: k.Curve.Params().Name,
			X:   base64.RawURLEncoding.EncodeToString(k.X.FillBytes(make([]byte, size))),
			Y:   base64.RawURLEncoding.EncodeToString(k.Y.FillBytes(make([]byte, size))),
		}, nil
	case ed25519.PublicKey:
		return JWK{
			Kty: "OKP",
			Kid: kid,
			Use: "sig",
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(k),
		}, nil
	default:
		return JWK{}, fmt.Errorf("jwtx: unsupported public key type %T", key)
	}
}

func b64BigInt(n *big.Int) string {
	return base64.RawURLEncoding.EncodeToString(n.Bytes())
}
