package ton

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"go.uber.org/zap"
)

// MinAcceptanceReserveTON is the smallest native balance an account must hold
// for the network to accept an externally-signed message from it. Callers can
// pre-check against it before submitting.
const MinAcceptanceReserveTON = "0.01"

// MinAcceptanceReserve is MinAcceptanceReserveTON in nano units.
var MinAcceptanceReserve = tlb.MustFromTON(MinAcceptanceReserveTON).Nano()

const submitTimeout = 90 * time.Second

// SendToken submits one token transfer from a restored custodial wallet to
// dest, attaching the configured gas allowance. It reports either confirmed
// submission or a classified failure; it never retries internally.
func (c *Client) SendToken(ctx context.Context, from Signer, dest string, amount *big.Int, memo string) error {
	ws, ok := from.(*walletSigner)
	if !ok {
		return &TransferError{Reason: ReasonUnknown, Err: fmt.Errorf("signer was not issued by this client")}
	}

	to, err := address.ParseAddr(dest)
	if err != nil {
		return &TransferError{Reason: ReasonUnknown, Err: fmt.Errorf("invalid destination: %w", err)}
	}

	// A submission from an account below the acceptance minimum would be
	// rejected anyway; surface the precise reason instead.
	if native, err := c.NativeBalance(ctx, from.Address()); err == nil && native.Cmp(MinAcceptanceReserve) < 0 {
		return &TransferError{
			Reason: ReasonInsufficientGas,
			Err:    fmt.Errorf("native balance %s below acceptance minimum %s", native, MinAcceptanceReserve),
		}
	}

	tokenWallet, err := c.master.GetJettonWallet(ctx, ws.w.WalletAddress())
	if err != nil {
		return &TransferError{Reason: ReasonUnknown, Err: fmt.Errorf("resolve token wallet: %w", err)}
	}

	amountCoins, err := tlb.FromNano(amount, c.tokenDecimals)
	if err != nil {
		return &TransferError{Reason: ReasonUnknown, Err: fmt.Errorf("invalid amount: %w", err)}
	}

	comment, err := wallet.CreateCommentCell(memo)
	if err != nil {
		return &TransferError{Reason: ReasonUnknown, Err: err}
	}

	payload, err := tokenWallet.BuildTransferPayloadV2(to, ws.w.WalletAddress(), amountCoins, tlb.FromNanoTONU(1), comment, nil)
	if err != nil {
		return &TransferError{Reason: ReasonUnknown, Err: fmt.Errorf("build transfer: %w", err)}
	}

	msg := wallet.SimpleMessage(tokenWallet.Address(), c.gasAllowance, payload)

	sendCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	if err := ws.w.Send(sendCtx, msg, true); err != nil {
		return classifySendError(err)
	}

	c.log.Info("token transfer submitted",
		zap.String("from", from.Address()),
		zap.String("to", dest),
		zap.String("amount", amount.String()),
	)
	return nil
}

// SendNative submits a plain native-currency transfer, non-bounceable so an
// uninitialized destination keeps the funds. Used for escrow gas top-ups.
func (c *Client) SendNative(ctx context.Context, from Signer, dest string, amount *big.Int, memo string) error {
	ws, ok := from.(*walletSigner)
	if !ok {
		return &TransferError{Reason: ReasonUnknown, Err: fmt.Errorf("signer was not issued by this client")}
	}

	to, err := address.ParseAddr(dest)
	if err != nil {
		return &TransferError{Reason: ReasonUnknown, Err: fmt.Errorf("invalid destination: %w", err)}
	}

	coins, err := tlb.FromNano(amount, nativeDecimals)
	if err != nil {
		return &TransferError{Reason: ReasonUnknown, Err: fmt.Errorf("invalid amount: %w", err)}
	}

	sendCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	if err := ws.w.TransferNoBounce(sendCtx, to, coins, memo, true); err != nil {
		return classifySendError(err)
	}

	c.log.Info("native transfer submitted",
		zap.String("from", from.Address()),
		zap.String("to", dest),
		zap.String("amount", amount.String()),
	)
	return nil
}

func classifySendError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &TransferError{Reason: ReasonTimeout, Err: err}
	case isRejected(err):
		return &TransferError{Reason: ReasonRejected, Err: err}
	default:
		return &TransferError{Reason: ReasonUnknown, Err: err}
	}
}

// isRejected recognizes network-level rejection of an external message,
// which in practice means the sending account cannot pay for acceptance.
func isRejected(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "cannot apply external message") ||
		strings.Contains(msg, "message was not accepted") ||
		strings.Contains(msg, "external message rejected")
}
