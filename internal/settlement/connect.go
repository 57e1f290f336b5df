package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/AceBoss1/afrodex-exchange/internal/crypto"
	"github.com/AceBoss1/afrodex-exchange/internal/domain"
)

// Connect dials the node, loads the relayer key and builds a Submitter. It
// never fails: configuration problems produce an Unavailable submitter so
// the process can keep serving reads. The returned client is nil unless the
// dial succeeded; the caller closes it.
func Connect(ctx context.Context, cfg Config, keys crypto.KeySource, journal domain.SettlementJournal, logger *slog.Logger) (*Submitter, *ethclient.Client) {
	log := logger.With(slog.String("component", "settlement"))

	if err := cfg.Validate(); err != nil {
		log.WarnContext(ctx, "settlement disabled", slog.String("error", err.Error()))
		return Unavailable(err), nil
	}
	signer, err := crypto.LoadRelayerSigner(keys, cfg.ChainID)
	if err != nil {
		log.WarnContext(ctx, "settlement disabled", slog.String("error", err.Error()))
		return Unavailable(err), nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
	if err != nil {
		err = fmt.Errorf("settlement: %w: dial %s: %v", domain.ErrConfiguration, redactURL(cfg.RPCURL), err)
		log.WarnContext(ctx, "settlement disabled", slog.String("error", err.Error()))
		return Unavailable(err), nil
	}

	remote, err := client.ChainID(dialCtx)
	if err != nil {
		log.WarnContext(ctx, "could not confirm chain id", slog.String("error", err.Error()))
	} else if remote.Int64() != cfg.ChainID {
		client.Close()
		err = fmt.Errorf("settlement: %w: node reports chain id %s, configured %d", domain.ErrConfiguration, remote, cfg.ChainID)
		log.WarnContext(ctx, "settlement disabled", slog.String("error", err.Error()))
		return Unavailable(err), nil
	}

	sub, err := New(cfg, client, signer, journal, logger)
	if err != nil {
		client.Close()
		log.WarnContext(ctx, "settlement disabled", slog.String("error", err.Error()))
		return Unavailable(err), nil
	}
	log.InfoContext(ctx, "settlement ready",
		slog.String("relayer", signer.Address().Hex()),
		slog.String("exchange", cfg.ExchangeAddress),
		slog.Int64("chain_id", cfg.ChainID),
	)
	return sub, client
}

// redactURL keeps scheme and host; RPC URLs often embed API keys.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Scheme + "://" + u.Host + "/***"
}
