package escrow

import (
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tollgate-ai/tollgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("escrow.orchestrator",
	fx.Provide(provideSigner),
	fx.Provide(New),
)

// provideSigner uses the configured funding key, or an ephemeral key when
// none is set so balance-funded deployments start without escrow config.
// Payments signed with an ephemeral key will never settle.
func provideSigner(cfg config.Config, log *zap.Logger) (*Signer, error) {
	if strings.TrimSpace(cfg.Escrow.FundingPrivateKey) == "" {
		key, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		signer := newSignerFromKey(key)
		log.Warn("no escrow funding key configured, using ephemeral key",
			zap.String("address", signer.Address()),
		)
		return signer, nil
	}
	return NewSigner(cfg.Escrow.FundingPrivateKey)
}
