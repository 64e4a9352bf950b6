package ton

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tonmarket/settlement/internal/config"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	tonapi "github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/jetton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// Signer is an opaque handle to a restored custodial wallet. Concrete values
// come from Client.RestoreWallet; the settlement service never sees keys.
type Signer interface {
	Address() string
}

type walletSigner struct {
	w    *wallet.Wallet
	addr string
}

func (s *walletSigner) Address() string { return s.addr }

// Client is the narrow chain capability the settlement core calls through:
// wallet custody, balance probing, transfer submission and transaction
// lookup. All amounts cross this boundary in smallest units.
type Client struct {
	api           tonapi.APIClientWrapped
	master        *jetton.Client
	network       string
	gasAllowance  tlb.Coins
	tokenDecimals int
	log           *zap.Logger
}

// Connect establishes a connection to the TON network. If LITE_SERVER_HOST
// and LITE_SERVER_KEY are set, connects to that lite server; otherwise
// auto-discovers from the global config matching TON_NETWORK.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Client, error) {
	pool := liteclient.NewConnectionPool()

	if cfg.LiteServerHost != "" && cfg.LiteServerKey != "" {
		addrStr := fmt.Sprintf("%s:%d", cfg.LiteServerHost, cfg.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addrStr))
		if err := pool.AddConnection(ctx, addrStr, cfg.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addrStr, err)
		}
	} else {
		var configURL string
		switch strings.ToLower(cfg.TONNetwork) {
		case "mainnet":
			configURL = "https://ton.org/global.config.json"
		default:
			configURL = "https://ton.org/testnet-global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.TONNetwork))
		if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := tonapi.ProofCheckPolicyFast
	if strings.ToLower(cfg.TONNetwork) == "mainnet" {
		proofPolicy = tonapi.ProofCheckPolicySecure
	}
	api := tonapi.NewAPIClient(pool, proofPolicy).WithRetry()

	masterAddr, err := address.ParseAddr(cfg.JettonMasterAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid jetton master address: %w", err)
	}

	gasNano, err := ParseNative(cfg.GasAllowanceTON)
	if err != nil {
		return nil, fmt.Errorf("invalid gas allowance: %w", err)
	}
	gas, err := tlb.FromNano(gasNano, nativeDecimals)
	if err != nil {
		return nil, fmt.Errorf("invalid gas allowance: %w", err)
	}

	return &Client{
		api:           api,
		master:        jetton.NewJettonMasterClient(api, masterAddr),
		network:       strings.ToLower(cfg.TONNetwork),
		gasAllowance:  gas,
		tokenDecimals: cfg.JettonDecimals,
		log:           log,
	}, nil
}

// LastTransaction resolves the most recent transaction hash of addr and the
// account's last logical time. The LT is returned even when the hash lookup
// fails so callers can build a composite identifier.
func (c *Client) LastTransaction(ctx context.Context, addr string) (string, uint64, error) {
	a, err := address.ParseAddr(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address: %w", err)
	}

	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("get master block: %w", err)
	}

	account, err := c.api.GetAccount(ctx, block, a)
	if err != nil {
		return "", 0, fmt.Errorf("get account: %w", err)
	}
	if account == nil || account.LastTxLT == 0 {
		return "", 0, fmt.Errorf("account %s has no transactions", addr)
	}

	txs, err := c.api.ListTransactions(ctx, a, 1, account.LastTxLT, account.LastTxHash)
	if err != nil || len(txs) == 0 {
		// The account header still carries the last tx hash.
		return hex.EncodeToString(account.LastTxHash), account.LastTxLT, nil
	}

	tx := txs[len(txs)-1]
	return hex.EncodeToString(tx.Hash), tx.LT, nil
}
