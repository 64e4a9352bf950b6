package ton

import (
	"fmt"
	"strings"

	tonapi "github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
)

// SeedWordCount is the expected custodial seed phrase length.
const SeedWordCount = 24

func globalIDFor(network string) int32 {
	if network == "mainnet" {
		return wallet.MainnetGlobalID
	}
	return wallet.TestnetGlobalID
}

// walletVersion maps the fee-payable custody kind to the W5 wallet contract,
// which supports paying fees from token balance.
func walletVersion(network string) wallet.VersionConfig {
	return wallet.ConfigV5R1Final{NetworkGlobalID: globalIDFor(network)}
}

// GenerateWallet creates a fresh custodial seed and derives its address.
// Derivation is fully offline; api may be nil when no submission will follow.
func GenerateWallet(api tonapi.APIClientWrapped, network string) (phrase string, addr string, err error) {
	seed := wallet.NewSeed()
	w, err := wallet.FromSeed(api, seed, walletVersion(network))
	if err != nil {
		return "", "", fmt.Errorf("derive wallet: %w", err)
	}
	return strings.Join(seed, " "), w.WalletAddress().String(), nil
}

// DeriveWallet reconstructs signing capability from a previously generated
// seed phrase. Same phrase always yields the same address.
func DeriveWallet(api tonapi.APIClientWrapped, phrase string, network string) (*wallet.Wallet, error) {
	words := strings.Fields(phrase)
	if len(words) != SeedWordCount {
		return nil, fmt.Errorf("%w: expected %d words, got %d", ErrInvalidSecret, SeedWordCount, len(words))
	}

	w, err := wallet.FromSeed(api, words, walletVersion(network))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	return w, nil
}

// CreateWallet generates a new custodial escrow wallet for an order.
func (c *Client) CreateWallet() (phrase string, addr string, err error) {
	return GenerateWallet(c.api, c.network)
}

// RestoreWallet restores a signing handle from a seed phrase.
func (c *Client) RestoreWallet(phrase string) (Signer, error) {
	w, err := DeriveWallet(c.api, phrase, c.network)
	if err != nil {
		return nil, err
	}
	return &walletSigner{w: w, addr: w.WalletAddress().String()}, nil
}
