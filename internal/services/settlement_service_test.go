package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tonmarket/settlement/internal/config"
	"github.com/tonmarket/settlement/internal/models"
	"github.com/tonmarket/settlement/internal/ton"
	"go.uber.org/zap"
)

// --- fakes ---

type fakeSigner struct{ addr string }

func (s fakeSigner) Address() string { return s.addr }

type tokenSend struct {
	from, to string
	amount   *big.Int
	memo     string
}

type fakeChain struct {
	mu sync.Mutex

	addrBySeed    map[string]string
	nativeBalance map[string]*big.Int
	tokenBalance  map[string]*big.Int
	tokenMissing  map[string]bool

	tokenSends  []tokenSend
	nativeSends []tokenSend
	probes      int
	seq         int

	// consumed one per SendToken call
	sendFailures []ton.TransferReason
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		addrBySeed:    map[string]string{},
		nativeBalance: map[string]*big.Int{},
		tokenBalance:  map[string]*big.Int{},
		tokenMissing:  map[string]bool{},
	}
}

func (c *fakeChain) CreateWallet() (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	phrase := fmt.Sprintf("seed-%d", c.seq)
	addr := fmt.Sprintf("ADDR-%d", c.seq)
	c.addrBySeed[phrase] = addr
	return phrase, addr, nil
}

func (c *fakeChain) RestoreWallet(phrase string) (ton.Signer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr, ok := c.addrBySeed[phrase]
	if !ok {
		return nil, ton.ErrInvalidSecret
	}
	return fakeSigner{addr: addr}, nil
}

func (c *fakeChain) NativeBalance(_ context.Context, addr string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.nativeBalance[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (c *fakeChain) TokenBalance(_ context.Context, addr string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes++
	if c.tokenMissing[addr] {
		return nil, ton.ErrTokenAccountNotFound
	}
	if b, ok := c.tokenBalance[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (c *fakeChain) SendToken(_ context.Context, from ton.Signer, dest string, amount *big.Int, memo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sendFailures) > 0 {
		reason := c.sendFailures[0]
		c.sendFailures = c.sendFailures[1:]
		return &ton.TransferError{Reason: reason, Err: errors.New("simulated")}
	}
	c.tokenSends = append(c.tokenSends, tokenSend{from: from.Address(), to: dest, amount: new(big.Int).Set(amount), memo: memo})
	if b, ok := c.tokenBalance[from.Address()]; ok {
		b.Sub(b, amount)
	}
	return nil
}

func (c *fakeChain) SendNative(_ context.Context, from ton.Signer, dest string, amount *big.Int, memo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nativeSends = append(c.nativeSends, tokenSend{from: from.Address(), to: dest, amount: new(big.Int).Set(amount), memo: memo})
	b, ok := c.nativeBalance[dest]
	if !ok {
		b = big.NewInt(0)
		c.nativeBalance[dest] = b
	}
	b.Add(b, amount)
	return nil
}

func (c *fakeChain) LastTransaction(_ context.Context, addr string) (string, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return fmt.Sprintf("hash-%s-%d", addr, c.seq), uint64(c.seq), nil
}

type fakeWalletStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*models.EscrowWallet
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{wallets: map[uuid.UUID]*models.EscrowWallet{}}
}

func (s *fakeWalletStore) Create(_ context.Context, w *models.EscrowWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.wallets[w.OrderID]; exists {
		return errors.New("duplicate key value violates unique constraint")
	}
	cp := *w
	s.wallets[w.OrderID] = &cp
	return nil
}

func (s *fakeWalletStore) GetByOrderID(_ context.Context, orderID uuid.UUID) (*models.EscrowWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[orderID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *w
	return &cp, nil
}

func (s *fakeWalletStore) UpdateReleaseStatus(_ context.Context, orderID uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[orderID]
	if !ok {
		return pgx.ErrNoRows
	}
	w.ReleaseStatus = status
	return nil
}

func (s *fakeWalletStore) TransitionReleaseStatus(_ context.Context, orderID uuid.UUID, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[orderID]
	if !ok || w.ReleaseStatus != from {
		return false, nil
	}
	w.ReleaseStatus = to
	return true, nil
}

func (s *fakeWalletStore) ListByStatus(_ context.Context, status string, _ int) ([]models.EscrowWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EscrowWallet
	for _, w := range s.wallets {
		if w.ReleaseStatus == status {
			out = append(out, *w)
		}
	}
	return out, nil
}

type fakeOrderStore struct {
	orders map[uuid.UUID]*models.Order
}

func (s *fakeOrderStore) GetByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return o, nil
}

type fakeSellerStore struct {
	listings map[uuid.UUID]*models.Listing
	users    map[uuid.UUID]*models.User
}

func (s *fakeSellerStore) GetListing(_ context.Context, id uuid.UUID) (*models.Listing, error) {
	l, ok := s.listings[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return l, nil
}

func (s *fakeSellerStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

type fakeTxStore struct {
	mu      sync.Mutex
	records []models.TransactionRecord
}

func (s *fakeTxStore) Record(_ context.Context, t *models.TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.TxHash == t.TxHash {
			return nil
		}
	}
	s.records = append(s.records, *t)
	return nil
}

func (s *fakeTxStore) ListByOrder(_ context.Context, orderID uuid.UUID) ([]models.TransactionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TransactionRecord
	for _, r := range s.records {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeTxStore) countByType(txType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.TxType == txType {
			n++
		}
	}
	return n
}

type fakeAuditStore struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (s *fakeAuditStore) Log(_ context.Context, entry models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeAuditStore) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, _, _ int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLog
	for _, e := range s.entries {
		if e.EntityType == entityType && e.EntityID != nil && *e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- fixture ---

type fixture struct {
	svc      *SettlementService
	recorder *TransactionRecorder
	chain    *fakeChain
	wallets  *fakeWalletStore
	txs      *fakeTxStore
	audit    *fakeAuditStore

	orderID uuid.UUID
	escrow  string // escrow wallet address
}

const (
	testFeeWallet   = "FEE-WALLET"
	testSellerAddr  = "SELLER-WALLET"
	testServiceSeed = "service-seed"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceWalletSeed:  testServiceSeed,
		FeeWalletAddress:   testFeeWallet,
		PlatformFeePercent: 5,
		EscrowTopUpTON:     "0.08",
		MinAcceptanceTON:   "0.01",
		LedgerReadAttempts: 3,
		LedgerReadDelay:    time.Millisecond,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	chain := newFakeChain()
	chain.addrBySeed[testServiceSeed] = "SERVICE-WALLET"
	chain.nativeBalance["SERVICE-WALLET"] = big.NewInt(1_000_000_000)

	orderID := uuid.New()
	listingID := uuid.New()
	sellerID := uuid.New()
	buyerID := uuid.New()

	escrowSeed := "escrow-seed"
	escrowAddr := "ESCROW-WALLET"
	chain.addrBySeed[escrowSeed] = escrowAddr

	wallets := newFakeWalletStore()
	wallets.wallets[orderID] = &models.EscrowWallet{
		OrderID:       orderID,
		SecretPhrase:  escrowSeed,
		WalletAddress: escrowAddr,
		WalletKind:    models.WalletKindFeePayable,
		ReleaseStatus: models.ReleaseStatusDeposited,
	}

	orders := &fakeOrderStore{orders: map[uuid.UUID]*models.Order{
		orderID: {ID: orderID, ListingID: listingID, BuyerUserID: buyerID, SellerUserID: sellerID},
	}}
	sellerAddr := testSellerAddr
	sellers := &fakeSellerStore{
		listings: map[uuid.UUID]*models.Listing{
			listingID: {ID: listingID, SellerUserID: sellerID},
		},
		users: map[uuid.UUID]*models.User{
			sellerID: {ID: sellerID, WalletAddress: &sellerAddr},
		},
	}

	txs := &fakeTxStore{}
	audit := &fakeAuditStore{}
	recorder := NewTransactionRecorder(chain, txs, 0, zap.NewNop())

	svc, err := NewSettlementService(testConfig(), chain, wallets, orders, sellers, audit, recorder, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}

	return &fixture{
		svc:      svc,
		recorder: recorder,
		chain:    chain,
		wallets:  wallets,
		txs:      txs,
		audit:    audit,
		orderID:  orderID,
		escrow:   escrowAddr,
	}
}

// --- tests ---

func TestRelease_SplitsAndTransfers(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance[f.escrow] = big.NewInt(1_000_000)

	res, err := f.svc.Release(context.Background(), f.orderID)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	f.recorder.Wait()

	if res.Fee.Int64() != 50_000 || res.Seller.Int64() != 950_000 {
		t.Errorf("unexpected split: fee %s seller %s", res.Fee, res.Seller)
	}

	if len(f.chain.tokenSends) != 2 {
		t.Fatalf("expected 2 token transfers, got %d", len(f.chain.tokenSends))
	}
	// Fee leaves first.
	if f.chain.tokenSends[0].to != testFeeWallet {
		t.Errorf("first transfer went to %s, expected fee wallet", f.chain.tokenSends[0].to)
	}
	if f.chain.tokenSends[1].to != testSellerAddr {
		t.Errorf("second transfer went to %s, expected seller", f.chain.tokenSends[1].to)
	}

	w, _ := f.wallets.GetByOrderID(context.Background(), f.orderID)
	if w.ReleaseStatus != models.ReleaseStatusReleased {
		t.Errorf("expected status released, got %s", w.ReleaseStatus)
	}

	if n := f.txs.countByType(models.TxTypeCustodyToFee); n != 1 {
		t.Errorf("expected 1 custody_to_fee record, got %d", n)
	}
	if n := f.txs.countByType(models.TxTypeCustodyToSeller); n != 1 {
		t.Errorf("expected 1 custody_to_seller record, got %d", n)
	}
}

func TestRelease_FundsGasWhenEmpty(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance[f.escrow] = big.NewInt(100)
	// escrow native balance starts at zero

	if _, err := f.svc.Release(context.Background(), f.orderID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if len(f.chain.nativeSends) != 1 {
		t.Fatalf("expected 1 gas top-up, got %d", len(f.chain.nativeSends))
	}
	if f.chain.nativeSends[0].to != f.escrow {
		t.Errorf("top-up went to %s, expected escrow wallet", f.chain.nativeSends[0].to)
	}
}

func TestRelease_SkipsGasWhenFunded(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance[f.escrow] = big.NewInt(100)
	f.chain.nativeBalance[f.escrow] = big.NewInt(50_000_000) // 0.05 TON

	if _, err := f.svc.Release(context.Background(), f.orderID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(f.chain.nativeSends) != 0 {
		t.Errorf("expected no gas top-up, got %d", len(f.chain.nativeSends))
	}
}

func TestRelease_SecondAttemptIsNoop(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance[f.escrow] = big.NewInt(1_000_000)

	if _, err := f.svc.Release(context.Background(), f.orderID); err != nil {
		t.Fatalf("first Release: %v", err)
	}

	_, err := f.svc.Release(context.Background(), f.orderID)
	if !errors.Is(err, ErrEmptyBalance) {
		t.Fatalf("expected ErrEmptyBalance, got %v", err)
	}

	if len(f.chain.tokenSends) != 2 {
		t.Errorf("second release moved funds: %d transfers total", len(f.chain.tokenSends))
	}
}

func TestRelease_ConcurrentAttemptsPayOnce(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance[f.escrow] = big.NewInt(1_000_000)
	f.chain.nativeBalance[f.escrow] = big.NewInt(50_000_000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Release(context.Background(), f.orderID)
		}(i)
	}
	wg.Wait()
	f.recorder.Wait()

	var succeeded, empty int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrEmptyBalance):
			empty++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || empty != 1 {
		t.Fatalf("expected exactly one payout and one empty-balance, got %d/%d", succeeded, empty)
	}
	if len(f.chain.tokenSends) != 2 {
		t.Errorf("expected 2 token transfers total, got %d", len(f.chain.tokenSends))
	}
	if n := f.txs.countByType(models.TxTypeCustodyToSeller); n != 1 {
		t.Errorf("expected 1 custody_to_seller record, got %d", n)
	}
}

func TestRelease_MissingWallet(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Release(context.Background(), uuid.New())
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestRelease_EmptyEscrow(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenMissing[f.escrow] = true
	f.chain.nativeBalance[f.escrow] = big.NewInt(50_000_000)

	_, err := f.svc.Release(context.Background(), f.orderID)
	if !errors.Is(err, ErrEmptyBalance) {
		t.Fatalf("expected ErrEmptyBalance, got %v", err)
	}

	w, _ := f.wallets.GetByOrderID(context.Background(), f.orderID)
	if w.ReleaseStatus != models.ReleaseStatusDeposited {
		t.Errorf("empty-balance attempt changed status to %s", w.ReleaseStatus)
	}
}

func TestRelease_SellerWalletMissingBeforeAnyTransfer(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance[f.escrow] = big.NewInt(1_000_000)

	// Strip both payout sources.
	for _, u := range f.svcSellers().users {
		u.WalletAddress = nil
	}

	_, err := f.svc.Release(context.Background(), f.orderID)
	if !errors.Is(err, ErrSellerWalletMissing) {
		t.Fatalf("expected ErrSellerWalletMissing, got %v", err)
	}
	if len(f.chain.tokenSends) != 0 || len(f.chain.nativeSends) != 0 {
		t.Error("release without a payout destination touched the chain")
	}
	if f.chain.probes != 0 {
		t.Errorf("expected no balance probes, got %d", f.chain.probes)
	}
}

func (f *fixture) svcSellers() *fakeSellerStore {
	return f.svc.sellers.(*fakeSellerStore)
}

func TestRelease_ListingPayoutPreferred(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance[f.escrow] = big.NewInt(1_000)

	payout := "LISTING-PAYOUT"
	for _, l := range f.svcSellers().listings {
		l.PayoutWalletAddress = &payout
	}

	res, err := f.svc.Release(context.Background(), f.orderID)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if res.SellerAddress != payout {
		t.Errorf("expected payout to %s, got %s", payout, res.SellerAddress)
	}
}

func TestRelease_RefundsGasAndRetriesOnce(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance[f.escrow] = big.NewInt(1_000_000)
	f.chain.nativeBalance[f.escrow] = big.NewInt(50_000_000)
	f.chain.sendFailures = []ton.TransferReason{ton.ReasonInsufficientGas}

	if _, err := f.svc.Release(context.Background(), f.orderID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if len(f.chain.tokenSends) != 2 {
		t.Errorf("expected 2 successful transfers, got %d", len(f.chain.tokenSends))
	}
	// The bounce triggered one top-up despite the funded wallet.
	if len(f.chain.nativeSends) != 1 {
		t.Errorf("expected 1 refund top-up, got %d", len(f.chain.nativeSends))
	}
	if f.chain.nativeSends[0].to != f.escrow {
		t.Errorf("refund top-up went to %s, expected escrow wallet", f.chain.nativeSends[0].to)
	}
	if want := "gas:" + f.orderID.String(); f.chain.nativeSends[0].memo != want {
		t.Errorf("refund memo %q, expected %q", f.chain.nativeSends[0].memo, want)
	}
}

func TestRelease_SecondBounceIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance[f.escrow] = big.NewInt(1_000_000)
	f.chain.nativeBalance[f.escrow] = big.NewInt(50_000_000)
	f.chain.sendFailures = []ton.TransferReason{ton.ReasonRejected, ton.ReasonRejected}

	_, err := f.svc.Release(context.Background(), f.orderID)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	w, _ := f.wallets.GetByOrderID(context.Background(), f.orderID)
	if w.ReleaseStatus != models.ReleaseStatusFailed {
		t.Errorf("expected status failed, got %s", w.ReleaseStatus)
	}
	if len(f.chain.tokenSends) != 0 {
		t.Errorf("expected no successful transfers, got %d", len(f.chain.tokenSends))
	}
}

func TestRelease_TimeoutDoesNotRetry(t *testing.T) {
	f := newFixture(t)
	f.chain.tokenBalance[f.escrow] = big.NewInt(1_000_000)
	f.chain.nativeBalance[f.escrow] = big.NewInt(50_000_000)
	f.chain.sendFailures = []ton.TransferReason{ton.ReasonTimeout}

	_, err := f.svc.Release(context.Background(), f.orderID)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	// No refund retry for an ambiguous timeout.
	if len(f.chain.nativeSends) != 0 {
		t.Errorf("timeout triggered a top-up: %d", len(f.chain.nativeSends))
	}
}
