package ton

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	tonapi "github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

// probeResult is the shared outcome of one balance read strategy: either an
// amount, or the well-known "account not deployed yet" condition.
type probeResult struct {
	amount      *big.Int
	notDeployed bool
}

type balanceStrategy struct {
	name string
	read func(ctx context.Context, a *address.Address) (probeResult, error)
}

// NativeBalance reads the native-currency balance of addr. A freshly created
// custodial wallet may not be visible to every read path of the ledger yet,
// so strategies are tried in order; "not deployed" resolves to zero balance
// rather than an error.
func (c *Client) NativeBalance(ctx context.Context, addr string) (*big.Int, error) {
	a, err := address.ParseAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	strategies := []balanceStrategy{
		{"current-block", c.balanceAtCurrentBlock},
		{"fresh-block", c.balanceAtFreshBlock},
		{"contract-probe", c.balanceViaContract},
	}
	return resolveBalance(ctx, a, strategies, c.log)
}

// resolveBalance runs strategies in order and returns the first amount seen.
// "Not deployed" from one strategy does not settle the question: the read
// path it used may simply lag behind the account's creation, so the next
// strategy gets its look. Zero comes back only when every strategy agrees
// the account does not exist.
func resolveBalance(ctx context.Context, a *address.Address, strategies []balanceStrategy, log *zap.Logger) (*big.Int, error) {
	var lastErr error
	notDeployed := 0
	for _, s := range strategies {
		res, err := s.read(ctx, a)
		if err != nil {
			log.Debug("balance strategy failed",
				zap.String("strategy", s.name),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		if res.notDeployed {
			notDeployed++
			continue
		}
		return res.amount, nil
	}
	if notDeployed == len(strategies) {
		return big.NewInt(0), nil
	}
	return nil, fmt.Errorf("all balance strategies failed: %w", lastErr)
}

// balanceAtCurrentBlock reads the account state at the (possibly cached)
// current masterchain block.
func (c *Client) balanceAtCurrentBlock(ctx context.Context, a *address.Address) (probeResult, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return probeResult{}, err
	}
	return c.accountBalance(ctx, block, a)
}

// balanceAtFreshBlock forces an uncached masterchain lookup in case the
// block used by the first strategy lags behind the account's creation.
func (c *Client) balanceAtFreshBlock(ctx context.Context, a *address.Address) (probeResult, error) {
	block, err := c.api.GetMasterchainInfo(ctx)
	if err != nil {
		return probeResult{}, err
	}
	return c.accountBalance(ctx, block, a)
}

// balanceViaContract probes the contract itself: a successful get-method run
// proves the account is deployed, after which the state read is repeated.
func (c *Client) balanceViaContract(ctx context.Context, a *address.Address) (probeResult, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return probeResult{}, err
	}

	if _, err := c.api.RunGetMethod(ctx, block, a, "seqno"); err != nil {
		if isNotDeployed(err) {
			return probeResult{notDeployed: true}, nil
		}
		return probeResult{}, err
	}

	return c.accountBalance(ctx, block, a)
}

func (c *Client) accountBalance(ctx context.Context, block *tonapi.BlockIDExt, a *address.Address) (probeResult, error) {
	account, err := c.api.GetAccount(ctx, block, a)
	if err != nil {
		return probeResult{}, err
	}
	if account == nil || !account.IsActive || account.State == nil {
		return probeResult{notDeployed: true}, nil
	}
	return probeResult{amount: account.State.Balance.Nano()}, nil
}

// TokenBalance resolves the owner's token sub-wallet via the jetton master
// contract and reads its balance. A missing sub-wallet is reported as
// ErrTokenAccountNotFound, distinct from a zero balance.
func (c *Client) TokenBalance(ctx context.Context, ownerAddr string) (*big.Int, error) {
	owner, err := address.ParseAddr(ownerAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	tokenWallet, err := c.master.GetJettonWallet(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("resolve token wallet: %w", err)
	}

	balance, err := tokenWallet.GetBalance(ctx)
	if err != nil {
		if isNotDeployed(err) {
			return nil, ErrTokenAccountNotFound
		}
		return nil, fmt.Errorf("read token balance: %w", err)
	}
	return balance, nil
}

// isNotDeployed recognizes the ledger's "account/contract not initialized"
// condition across its error shapes.
func isNotDeployed(err error) bool {
	if err == nil {
		return false
	}
	var execErr tonapi.ContractExecError
	if errors.As(err, &execErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "contract is not initialized") ||
		strings.Contains(msg, "account is not active") ||
		strings.Contains(msg, "state not found")
}
