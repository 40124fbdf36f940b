package app

import (
	"fmt"
	"log/slog"

	"github.com/parclabs/keygate/pkg/jwtx"
)

// InitSigningKeys generates the process's ephemeral signing key set.
//
// Keys live only in memory: every restart mints a fresh key, which
// invalidates outstanding access tokens. Access tokens are short
// lived, so clients recover on their next refresh.
//
// Supported algorithms: RS256, ES256, EdDSA.
func InitSigningKeys(cfg Config, logger *slog.Logger) (*jwtx.KeySet, error) {
	keys, err := jwtx.NewEphemeralKeySet(cfg.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}

	logger.Info("generated ephemeral signing key",
		"algorithm", cfg.Algorithm,
		"kid", keys.Signer().KeyID(),
		"issuer", cfg.Issuer,
	)
	logger.Warn("all existing access tokens are now invalid due to key rotation on startup")

	return keys, nil
}
