package coordinator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/auction"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/gateway"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/repository"
)

const (
	evmChain  = "evm:31337"
	nearChain = "near:testnet"
)

func testSecret() string { return strings.Repeat("cd", 32) }

// testHashlock is the keccak256 of testSecret, the hashlock an EVM source
// escrow would carry for it
func testHashlock() string {
	raw, _ := hex.DecodeString(testSecret())
	h := sha3.NewLegacyKeccak256()
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))
}

// memOrderRepo is an in-memory SwapOrderRepository with the same CAS and
// not-found semantics as the gorm implementation.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*models.SwapOrder
	events []*models.EscrowEvent
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[string]*models.SwapOrder{}}
}

func cloneOrder(o *models.SwapOrder) *models.SwapOrder {
	c := *o
	if o.NextRetryAt != nil {
		t := *o.NextRetryAt
		c.NextRetryAt = &t
	}
	return &c
}

func (r *memOrderRepo) Create(ctx context.Context, order *models.SwapOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return fmt.Errorf("duplicate order id %s", order.ID)
	}
	order.CreatedAt = time.Now()
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memOrderRepo) GetByID(ctx context.Context, id string) (*models.SwapOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		return cloneOrder(o), nil
	}
	return nil, nil
}

func (r *memOrderRepo) GetBySourceEscrow(ctx context.Context, ref string) (*models.SwapOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref == "" {
		return nil, nil
	}
	for _, o := range r.orders {
		if o.SourceEscrowRef == ref {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (r *memOrderRepo) GetByDestEscrow(ctx context.Context, ref string) (*models.SwapOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref == "" {
		return nil, nil
	}
	for _, o := range r.orders {
		if o.DestEscrowRef == ref {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (r *memOrderRepo) GetBySecretHash(ctx context.Context, hash string) (*models.SwapOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.SwapOrder
	for _, o := range r.orders {
		if o.SecretHash != hash {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneOrder(latest), nil
}

func (r *memOrderRepo) Update(ctx context.Context, order *models.SwapOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %s not found", order.ID)
	}
	// Save does not change state through this path in the tests
	state := stored.State
	updated := cloneOrder(order)
	updated.State = state
	updated.UpdatedAt = time.Now()
	r.orders[order.ID] = updated
	return nil
}

func (r *memOrderRepo) UpdateState(ctx context.Context, id string, from, to models.SwapState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[id]
	if !ok || stored.State != from {
		return repository.ErrStaleState
	}
	stored.State = to
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *memOrderRepo) FindByState(ctx context.Context, state models.SwapState, limit int) ([]*models.SwapOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SwapOrder
	for _, o := range r.orders {
		if o.State == state && len(out) < limit {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (r *memOrderRepo) FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.SwapOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SwapOrder
	for _, o := range r.orders {
		if o.State.IsTerminal() || o.State == models.SwapStateExpired {
			continue
		}
		if o.SourceTimelock > 0 && o.SourceTimelock <= now.Unix() && len(out) < limit {
			out = append(out, cloneOrder(o))
		}
	}
	return out, nil
}

func (r *memOrderRepo) List(ctx context.Context, page, limit int) ([]*models.SwapOrder, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SwapOrder
	for _, o := range r.orders {
		out = append(out, cloneOrder(o))
	}
	return out, int64(len(out)), nil
}

func (r *memOrderRepo) SaveEvent(ctx context.Context, event *models.EscrowEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// stateOf reads the durable state directly, bypassing any stale in-memory copy
func (r *memOrderRepo) stateOf(t *testing.T, id string) models.SwapState {
	t.Helper()
	o, err := r.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return o.State
}

// memFillLedger mirrors the gorm PartialFillLedger accounting
type memFillLedger struct {
	mu     sync.Mutex
	repo   *memOrderRepo
	fills  []*models.PartialFill
	nextID int
}

func newMemFillLedger(repo *memOrderRepo) *memFillLedger {
	return &memFillLedger{repo: repo}
}

func (l *memFillLedger) RecordFill(ctx context.Context, parentOrderID, childOrderID, amount, txHash string) (*models.PartialFill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fillAmount, ok := new(big.Int).SetString(amount, 10)
	if !ok || fillAmount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid fill amount %q", amount)
	}
	parent, err := l.repo.GetByID(ctx, parentOrderID)
	if err != nil || parent == nil {
		return nil, fmt.Errorf("parent order not found")
	}
	parentAmount, _ := new(big.Int).SetString(parent.FromAmount, 10)
	filled := new(big.Int)
	for _, f := range l.fills {
		if f.ParentOrderID == parentOrderID {
			a, _ := new(big.Int).SetString(f.FilledAmount, 10)
			filled.Add(filled, a)
		}
	}
	remaining := new(big.Int).Sub(parentAmount, filled)
	if fillAmount.Cmp(remaining) > 0 {
		return nil, fmt.Errorf("%w: fill %s > remaining %s", repository.ErrOverFill, fillAmount, remaining)
	}

	l.nextID++
	fill := &models.PartialFill{
		ID:            fmt.Sprintf("fill-%d", l.nextID),
		ParentOrderID: parentOrderID,
		ChildOrderID:  childOrderID,
		FilledAmount:  fillAmount.String(),
		TxHash:        txHash,
		CreatedAt:     time.Now(),
	}
	l.fills = append(l.fills, fill)
	return fill, nil
}

func (l *memFillLedger) MarkRefunded(ctx context.Context, fillID, txHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range l.fills {
		if f.ID == fillID {
			f.Refunded = true
			f.TxHash = txHash
			return nil
		}
	}
	return fmt.Errorf("partial fill %s not found", fillID)
}

func (l *memFillLedger) Remaining(ctx context.Context, parentOrderID, parentAmount string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total, ok := new(big.Int).SetString(parentAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid parent amount %q", parentAmount)
	}
	for _, f := range l.fills {
		if f.ParentOrderID == parentOrderID {
			a, _ := new(big.Int).SetString(f.FilledAmount, 10)
			total.Sub(total, a)
		}
	}
	return total, nil
}

func (l *memFillLedger) FillsFor(ctx context.Context, parentOrderID string) ([]*models.PartialFill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*models.PartialFill
	for _, f := range l.fills {
		if f.ParentOrderID == parentOrderID {
			out = append(out, f)
		}
	}
	return out, nil
}

// mockGateway is a scriptable EscrowGateway backed by a seedable escrow map
type mockGateway struct {
	chainID string

	createFn   func(ctx context.Context, params *gateway.CreateEscrowParams) (*gateway.TxResult, string, error)
	withdrawFn func(ctx context.Context, escrowRef, secret string) (*gateway.TxResult, error)
	refundFn   func(ctx context.Context, escrowRef string) (*gateway.TxResult, error)
	findFn     func(ctx context.Context, secretHash string) (*models.Escrow, error)
	getFn      func(ctx context.Context, escrowRef string) (*models.Escrow, error)

	mu            sync.Mutex
	escrows       map[string]*models.Escrow
	createCalls   []*gateway.CreateEscrowParams
	withdrawCalls []string
	refundCalls   []string
}

func newMockGateway(chainID string) *mockGateway {
	return &mockGateway{chainID: chainID, escrows: map[string]*models.Escrow{}}
}

func (g *mockGateway) ChainID() string { return g.chainID }

func (g *mockGateway) setEscrow(escrow *models.Escrow) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.escrows[escrow.EscrowID] = escrow
}

func (g *mockGateway) GetEscrow(ctx context.Context, escrowRef string) (*models.Escrow, error) {
	if g.getFn != nil {
		return g.getFn(ctx, escrowRef)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if escrow, ok := g.escrows[escrowRef]; ok {
		copied := *escrow
		return &copied, nil
	}
	return nil, gateway.ErrEscrowNotFound
}

func (g *mockGateway) FindEscrowByInitiatorAndAmount(ctx context.Context, initiator string, amount, tolerance *big.Int) (*models.Escrow, error) {
	return nil, gateway.ErrEscrowNotFound
}

func (g *mockGateway) FindEscrowBySecretHash(ctx context.Context, secretHash string) (*models.Escrow, error) {
	if g.findFn != nil {
		return g.findFn(ctx, secretHash)
	}
	return nil, gateway.ErrEscrowNotFound
}

func (g *mockGateway) CreateDestEscrow(ctx context.Context, params *gateway.CreateEscrowParams) (*gateway.TxResult, string, error) {
	g.mu.Lock()
	g.createCalls = append(g.createCalls, params)
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(ctx, params)
	}
	return &gateway.TxResult{TxHash: "0xcreate"}, "escrow-" + params.OrderID, nil
}

func (g *mockGateway) Withdraw(ctx context.Context, escrowRef, secret string) (*gateway.TxResult, error) {
	g.mu.Lock()
	g.withdrawCalls = append(g.withdrawCalls, escrowRef+"/"+secret)
	g.mu.Unlock()
	if g.withdrawFn != nil {
		return g.withdrawFn(ctx, escrowRef, secret)
	}
	return &gateway.TxResult{TxHash: "0xwithdraw"}, nil
}

func (g *mockGateway) Refund(ctx context.Context, escrowRef string) (*gateway.TxResult, error) {
	g.mu.Lock()
	g.refundCalls = append(g.refundCalls, escrowRef)
	g.mu.Unlock()
	if g.refundFn != nil {
		return g.refundFn(ctx, escrowRef)
	}
	return &gateway.TxResult{TxHash: "0xrefund"}, nil
}

type testHarness struct {
	repo   *memOrderRepo
	fills  *memFillLedger
	evm    *mockGateway
	near   *mockGateway
	coord  *Coordinator
	topics []string
}

func (h *testHarness) Publish(topic string, payload interface{}) error {
	h.topics = append(h.topics, topic)
	return nil
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		repo: newMemOrderRepo(),
		evm:  newMockGateway(evmChain),
		near: newMockGateway(nearChain),
	}
	h.fills = newMemFillLedger(h.repo)

	curve := &auction.Curve{
		DurationSeconds:    60,
		InitialRateBumpBps: 0,
		MaxRateBumpBps:     0,
	}
	require.NoError(t, curve.Validate())

	h.coord = NewCoordinator(
		h.repo, h.fills,
		map[string]gateway.EscrowGateway{evmChain: h.evm, nearChain: h.near},
		map[string]ChainParams{
			evmChain:  {Decimals: 18, TimelockOffset: 1800},
			nearChain: {Decimals: 24, TimelockOffset: 900},
		},
		curve, h, 3, time.Second,
	)
	return h
}

// testDeposit builds a deposit message and seeds the matching live escrow on
// the source gateway, the way a real deposit is backed by an on-chain lock
func (h *testHarness) testDeposit(txHash string) *models.CrossChainMessage {
	now := time.Now().Unix()
	msg := &models.CrossChainMessage{
		MessageID:      models.DeriveMessageID(evmChain, txHash, models.MessageTypeDeposit),
		Type:           models.MessageTypeDeposit,
		SourceChain:    evmChain,
		DestChain:      nearChain,
		Sender:         "0x1111111111111111111111111111111111111111",
		Recipient:      "alice.near",
		Amount:         "1000000000000000000",
		SecretHash:     testHashlock(),
		EscrowRef:      "0x00000000000000000000000000000000000000e5",
		SourceTxHash:   txHash,
		Timelock:       now + 3600,
		BlockTimestamp: now,
	}
	h.evm.setEscrow(&models.Escrow{
		EscrowID:   msg.EscrowRef,
		ChainID:    evmChain,
		Kind:       models.ChainKindEVM,
		Status:     models.EscrowStatusActive,
		Token:      "native",
		Amount:     msg.Amount,
		Timelock:   msg.Timelock,
		SecretHash: msg.SecretHash,
		Initiator:  msg.Sender,
		Recipient:  msg.Recipient,
	})
	return msg
}

func TestHandleDeposit_DrivesToDestEscrowLocked(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xdep1")

	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	order, err := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, models.SwapStateDestEscrowLocked, order.State)

	// zero bump, 18 -> 24 decimals
	assert.Equal(t, "1000000000000000000000000", order.ComputedToAmount)
	assert.Equal(t, int64(0), order.RateBumpBps)
	assert.NotEmpty(t, order.DestEscrowRef)

	require.Len(t, h.near.createCalls, 1)
	params := h.near.createCalls[0]
	assert.Equal(t, msg.SecretHash, params.SecretHash)
	assert.Equal(t, "alice.near", params.Recipient)
	assert.Equal(t, "1000000000000000000000000", params.Amount.String())
	assert.Equal(t, msg.BlockTimestamp+900, params.CancellationAt)
	assert.Equal(t, msg.Timelock, params.SrcCancellationAt)
	assert.Equal(t, params.CancellationAt, order.DestTimelock)
}

func TestHandleDeposit_ReplayIsNoOp(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xdep2")

	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	orders, _, err := h.repo.List(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Len(t, h.near.createCalls, 1)
}

func TestHandleDeposit_TimelockMismatchFailsOrder(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xdep3")
	// source expires before the destination offset can fit
	msg.Timelock = msg.BlockTimestamp + 60

	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	order, err := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, models.SwapStateFailed, order.State)
	assert.Contains(t, order.LastError, "timelock")
	assert.Empty(t, h.near.createCalls, "never broadcast with a mismatched timelock")
}

func TestHandleDeposit_FillTooSmallFailsOrder(t *testing.T) {
	h := newHarness(t)
	h.coord.curve.MinFillFractionBps = 2 * auction.BpsDenominator

	msg := h.testDeposit("0xdep4")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	order, err := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, models.SwapStateFailed, order.State)
}

func TestHandleDeposit_NotBackedByLiveEscrowDropped(t *testing.T) {
	cases := []struct {
		name string
		seed func(h *testHarness, msg *models.CrossChainMessage)
	}{
		{"no escrow on chain", func(h *testHarness, msg *models.CrossChainMessage) {
			delete(h.evm.escrows, msg.EscrowRef)
		}},
		{"escrow already refunded", func(h *testHarness, msg *models.CrossChainMessage) {
			h.evm.escrows[msg.EscrowRef].Status = models.EscrowStatusRefunded
		}},
		{"sender is not the initiator", func(h *testHarness, msg *models.CrossChainMessage) {
			msg.Sender = "0x2222222222222222222222222222222222222222"
		}},
		{"hashlock differs from escrow", func(h *testHarness, msg *models.CrossChainMessage) {
			msg.SecretHash = strings.Repeat("ab", 32)
		}},
		{"escrow timelock already passed", func(h *testHarness, msg *models.CrossChainMessage) {
			h.evm.escrows[msg.EscrowRef].Timelock = time.Now().Unix() - 10
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			msg := h.testDeposit("0xdep-" + tc.name)
			tc.seed(h, msg)

			require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

			// dropped outright: no order, no destination lock
			orders, _, err := h.repo.List(context.Background(), 1, 10)
			require.NoError(t, err)
			assert.Empty(t, orders)
			assert.Empty(t, h.near.createCalls)
		})
	}
}

func TestHandleDeposit_OwnDestEscrowEchoIsNoOp(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xdep-echo")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))
	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.NotEmpty(t, order.DestEscrowRef)

	// the destination escrow we just funded is observed as a deposit on NEAR
	echo := &models.CrossChainMessage{
		MessageID:    models.DeriveMessageID(nearChain, "tx-echo", models.MessageTypeDeposit),
		Type:         models.MessageTypeDeposit,
		SourceChain:  nearChain,
		DestChain:    evmChain,
		EscrowRef:    order.DestEscrowRef,
		SourceTxHash: "tx-echo",
	}
	require.NoError(t, h.coord.HandleMessage(context.Background(), echo))

	orders, _, err := h.repo.List(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Len(t, h.near.createCalls, 1)
}

func TestHandleDeposit_RecordsSettlementGasFee(t *testing.T) {
	h := newHarness(t)
	h.coord.curve.GasPriceEstimate = big.NewInt(2_000_000_000)

	msg := h.testDeposit("0xdep-gas")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	order, err := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.NoError(t, err)
	// (180000 + 132*16) + (95000 + 36*16) gas at 2 gwei, on top of the rate
	assert.Equal(t, "555376000000000", order.GasFee)
	assert.Equal(t, "1000000000000000000000000", order.ComputedToAmount, "gas fee never folded into the rate")
}

func TestSecretReveal_SettlesSource(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xdep5")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	order, err := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.NoError(t, err)
	require.Equal(t, models.SwapStateDestEscrowLocked, order.State)

	secret := testSecret()
	reveal := &models.CrossChainMessage{
		MessageID:    models.DeriveMessageID(nearChain, "tx-withdraw", models.MessageTypeWithdrawal),
		Type:         models.MessageTypeWithdrawal,
		SourceChain:  nearChain,
		DestChain:    evmChain,
		EscrowRef:    order.DestEscrowRef,
		Secret:       secret,
		SecretHash:   order.SecretHash,
		SourceTxHash: "tx-withdraw",
	}
	require.NoError(t, h.coord.HandleMessage(context.Background(), reveal))

	assert.Equal(t, models.SwapStateWithdrawn, h.repo.stateOf(t, order.ID))
	require.Len(t, h.evm.withdrawCalls, 1)
	assert.Equal(t, order.SourceEscrowRef+"/"+secret, h.evm.withdrawCalls[0])
}

func TestSecretReveal_WithoutSecretIsRejected(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xdep6")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))
	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)

	reveal := &models.CrossChainMessage{
		MessageID:   models.DeriveMessageID(nearChain, "tx-w2", models.MessageTypeWithdrawal),
		Type:        models.MessageTypeWithdrawal,
		SourceChain: nearChain,
		DestChain:   evmChain,
		EscrowRef:   order.DestEscrowRef,
	}
	assert.Error(t, h.coord.HandleMessage(context.Background(), reveal))
	assert.Equal(t, models.SwapStateDestEscrowLocked, h.repo.stateOf(t, order.ID))
}

func TestSecretReveal_ForgedSecretIgnored(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xforged")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))
	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.Equal(t, models.SwapStateDestEscrowLocked, order.State)

	// a withdrawal event whose preimage does not hash to the order's hashlock
	reveal := &models.CrossChainMessage{
		MessageID:    models.DeriveMessageID(nearChain, "tx-forged", models.MessageTypeWithdrawal),
		Type:         models.MessageTypeWithdrawal,
		SourceChain:  nearChain,
		DestChain:    evmChain,
		EscrowRef:    order.DestEscrowRef,
		Secret:       strings.Repeat("ff", 32),
		SourceTxHash: "tx-forged",
	}
	require.NoError(t, h.coord.HandleMessage(context.Background(), reveal))

	// dropped: no withdrawal attempted, the order still waits for the real secret
	assert.Equal(t, models.SwapStateDestEscrowLocked, h.repo.stateOf(t, order.ID))
	assert.Empty(t, h.evm.withdrawCalls)

	order, _ = h.repo.GetByID(context.Background(), order.ID)
	assert.Empty(t, order.Secret)

	// undecodable garbage is dropped the same way
	reveal.MessageID = models.DeriveMessageID(nearChain, "tx-garbled", models.MessageTypeWithdrawal)
	reveal.SourceTxHash = "tx-garbled"
	reveal.Secret = "not-hex"
	require.NoError(t, h.coord.HandleMessage(context.Background(), reveal))
	assert.Empty(t, h.evm.withdrawCalls)
}

func TestSecretReveal_UnknownEscrowIgnored(t *testing.T) {
	h := newHarness(t)
	reveal := &models.CrossChainMessage{
		MessageID:   models.DeriveMessageID(nearChain, "tx-w3", models.MessageTypeWithdrawal),
		Type:        models.MessageTypeWithdrawal,
		SourceChain: nearChain,
		DestChain:   evmChain,
		EscrowRef:   "escrow-nobody-knows",
		Secret:      strings.Repeat("ef", 32),
	}
	assert.NoError(t, h.coord.HandleMessage(context.Background(), reveal))
}

func TestSecretReveal_IdempotentWithdraw(t *testing.T) {
	h := newHarness(t)
	// already withdrawn on chain: the gateway reports a no-op
	h.evm.withdrawFn = func(ctx context.Context, escrowRef, secret string) (*gateway.TxResult, error) {
		return &gateway.TxResult{}, nil
	}

	msg := h.testDeposit("0xdep7")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))
	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)

	reveal := &models.CrossChainMessage{
		MessageID:   models.DeriveMessageID(nearChain, "tx-w4", models.MessageTypeWithdrawal),
		Type:        models.MessageTypeWithdrawal,
		SourceChain: nearChain,
		DestChain:   evmChain,
		EscrowRef:   order.DestEscrowRef,
		Secret:      testSecret(),
	}
	require.NoError(t, h.coord.HandleMessage(context.Background(), reveal))
	assert.Equal(t, models.SwapStateWithdrawn, h.repo.stateOf(t, order.ID))
}

func TestRefundObserved_MarksRefunded(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xdep8")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))
	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)

	refund := &models.CrossChainMessage{
		MessageID:    models.DeriveMessageID(evmChain, "tx-refund", models.MessageTypeRefund),
		Type:         models.MessageTypeRefund,
		SourceChain:  evmChain,
		DestChain:    nearChain,
		EscrowRef:    order.SourceEscrowRef,
		SourceTxHash: "tx-refund",
	}
	require.NoError(t, h.coord.HandleMessage(context.Background(), refund))
	assert.Equal(t, models.SwapStateRefunded, h.repo.stateOf(t, order.ID))

	// the maker took back the source side; our destination escrow must not be
	// left locked behind a terminal order
	order, _ = h.repo.GetByID(context.Background(), order.ID)
	require.Len(t, h.near.refundCalls, 1)
	assert.Equal(t, order.DestEscrowRef, h.near.refundCalls[0])

	// replaying against a terminal order changes nothing
	require.NoError(t, h.coord.HandleMessage(context.Background(), refund))
	assert.Equal(t, models.SwapStateRefunded, h.repo.stateOf(t, order.ID))
	assert.Len(t, h.near.refundCalls, 1)
}

func TestRefundObserved_DestNotYetExpiredStaysOpen(t *testing.T) {
	h := newHarness(t)
	h.near.refundFn = func(ctx context.Context, escrowRef string) (*gateway.TxResult, error) {
		return nil, gateway.ErrTimelockNotExpired
	}

	msg := h.testDeposit("0xdep15")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))
	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)

	refund := &models.CrossChainMessage{
		MessageID:   models.DeriveMessageID(evmChain, "tx-refund2", models.MessageTypeRefund),
		Type:        models.MessageTypeRefund,
		SourceChain: evmChain,
		DestChain:   nearChain,
		EscrowRef:   order.SourceEscrowRef,
	}
	require.NoError(t, h.coord.HandleMessage(context.Background(), refund))

	// not terminal yet: the destination refund is retried once its own
	// timelock passes
	order, _ = h.repo.GetByID(context.Background(), order.ID)
	assert.Equal(t, models.SwapStateExpired, order.State)
	assert.Equal(t, 1, order.RetryCount)
}

func TestTransientFailure_SchedulesRetryThenRecovers(t *testing.T) {
	h := newHarness(t)
	h.near.createFn = func(ctx context.Context, params *gateway.CreateEscrowParams) (*gateway.TxResult, string, error) {
		return nil, "", errors.New("rpc timeout")
	}

	msg := h.testDeposit("0xdep9")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	order, err := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.NoError(t, err)
	// the pending marker was durable before the failed broadcast
	assert.Equal(t, models.SwapStateDestEscrowPending, order.State)
	assert.Equal(t, 1, order.RetryCount)
	require.NotNil(t, order.NextRetryAt)
	assert.Contains(t, order.LastError, "rpc timeout")

	// gateway heals; pull the retry due time into the past and pump
	h.near.createFn = nil
	past := time.Now().Add(-time.Minute)
	order.NextRetryAt = &past
	require.NoError(t, h.repo.Update(context.Background(), order))

	_, err = h.coord.PumpRetries(context.Background())
	require.NoError(t, err)

	// recovery found nothing on chain, stepped back to Priced and re-locked
	assert.Equal(t, models.SwapStateDestEscrowLocked, h.repo.stateOf(t, order.ID))
	assert.Len(t, h.near.createCalls, 2)
}

func TestTransientFailure_ExhaustedRetriesFailOrder(t *testing.T) {
	h := newHarness(t)
	h.near.createFn = func(ctx context.Context, params *gateway.CreateEscrowParams) (*gateway.TxResult, string, error) {
		return nil, "", errors.New("rpc timeout")
	}
	h.near.findFn = func(ctx context.Context, secretHash string) (*models.Escrow, error) {
		return nil, errors.New("rpc timeout")
	}

	msg := h.testDeposit("0xdep10")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	for i := 0; i < 5; i++ {
		past := time.Now().Add(-time.Minute)
		order.NextRetryAt = &past
		require.NoError(t, h.repo.Update(context.Background(), order))
		_, err := h.coord.PumpRetries(context.Background())
		require.NoError(t, err)
		order, _ = h.repo.GetByID(context.Background(), order.ID)
		if order.State == models.SwapStateFailed {
			break
		}
	}
	assert.Equal(t, models.SwapStateFailed, order.State)
}

func TestRecoverDestination_FindsExistingEscrow(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xdep11")
	// the broadcast "succeeded on chain" but the process died before the
	// response was recorded
	h.near.createFn = func(ctx context.Context, params *gateway.CreateEscrowParams) (*gateway.TxResult, string, error) {
		return nil, "", errors.New("connection reset")
	}
	h.near.findFn = func(ctx context.Context, secretHash string) (*models.Escrow, error) {
		return &models.Escrow{
			EscrowID:   "escrow-found-on-chain",
			ChainID:    nearChain,
			SecretHash: secretHash,
			Timelock:   msg.BlockTimestamp + 900,
		}, nil
	}

	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.Equal(t, models.SwapStateDestEscrowPending, order.State)

	past := time.Now().Add(-time.Minute)
	order.NextRetryAt = &past
	require.NoError(t, h.repo.Update(context.Background(), order))
	_, err := h.coord.PumpRetries(context.Background())
	require.NoError(t, err)

	order, _ = h.repo.GetByID(context.Background(), order.ID)
	assert.Equal(t, models.SwapStateDestEscrowLocked, order.State)
	assert.Equal(t, "escrow-found-on-chain", order.DestEscrowRef)
	// no second broadcast: the existing escrow was adopted
	assert.Len(t, h.near.createCalls, 1)
}

func TestSweepExpired_RefundsBothEscrows(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xdep12")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.Equal(t, models.SwapStateDestEscrowLocked, order.State)

	// force expiry
	order.SourceTimelock = time.Now().Unix() - 10
	require.NoError(t, h.repo.Update(context.Background(), order))

	_, err := h.coord.SweepExpired(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.SwapStateRefunded, h.repo.stateOf(t, order.ID))
	require.Len(t, h.near.refundCalls, 1, "destination refunded first")
	assert.Equal(t, order.DestEscrowRef, h.near.refundCalls[0])
	require.Len(t, h.evm.refundCalls, 1)
	assert.Equal(t, order.SourceEscrowRef, h.evm.refundCalls[0])

	// second sweep is a no-op
	_, err = h.coord.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.evm.refundCalls, 1)
}

func TestSweepExpired_DestTimelockNotExpiredRetriesLater(t *testing.T) {
	h := newHarness(t)
	h.near.refundFn = func(ctx context.Context, escrowRef string) (*gateway.TxResult, error) {
		return nil, gateway.ErrTimelockNotExpired
	}

	msg := h.testDeposit("0xdep13")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))
	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	order.SourceTimelock = time.Now().Unix() - 10
	require.NoError(t, h.repo.Update(context.Background(), order))

	_, err := h.coord.SweepExpired(context.Background())
	require.NoError(t, err)

	// stays Expired with retry bookkeeping; the source escrow is untouched
	order, _ = h.repo.GetByID(context.Background(), order.ID)
	assert.Equal(t, models.SwapStateExpired, order.State)
	assert.Equal(t, 1, order.RetryCount)
	assert.Empty(t, h.evm.refundCalls)
}

func TestSweepExpired_SecretRevealedOutrunsExpiry(t *testing.T) {
	h := newHarness(t)
	msg := h.testDeposit("0xdep14")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))
	order, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)

	// secret revealed but withdraw not yet settled
	require.NoError(t, h.repo.UpdateState(context.Background(), order.ID,
		models.SwapStateDestEscrowLocked, models.SwapStateSecretRevealed))
	order.SourceTimelock = time.Now().Unix() - 10
	require.NoError(t, h.repo.Update(context.Background(), order))

	_, err := h.coord.SweepExpired(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.SwapStateSecretRevealed, h.repo.stateOf(t, order.ID))
	assert.Empty(t, h.evm.refundCalls)
	assert.Empty(t, h.near.refundCalls)
}

func TestPartialFill_DepositFillsSubmittedParent(t *testing.T) {
	h := newHarness(t)
	hashlock := testHashlock()

	parent, err := NewDirectSubmission(h.coord).Submit(context.Background(), &OrderRequest{
		FromChain:  evmChain,
		ToChain:    nearChain,
		Amount:     "3000000000000000000",
		SecretHash: hashlock,
		Recipient:  "alice.near",
		Timelock:   time.Now().Unix() + 3600,
	})
	require.NoError(t, err)

	msg := h.testDeposit("0xfill1")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	child, err := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, parent.ID, child.ParentOrderID)
	assert.Equal(t, models.SwapStateDestEscrowLocked, child.State)

	remaining, err := h.fills.Remaining(context.Background(), parent.ID, parent.FromAmount)
	require.NoError(t, err)
	assert.Equal(t, "2000000000000000000", remaining.String())
	assert.Contains(t, h.topics, "fills."+parent.ID)
}

func TestPartialFill_OverFillFailsChild(t *testing.T) {
	h := newHarness(t)
	hashlock := testHashlock()

	parent, err := NewDirectSubmission(h.coord).Submit(context.Background(), &OrderRequest{
		FromChain:  evmChain,
		ToChain:    nearChain,
		Amount:     "500000000000000000",
		SecretHash: hashlock,
		Recipient:  "alice.near",
		Timelock:   time.Now().Unix() + 3600,
	})
	require.NoError(t, err)

	// deposit exceeds the parent's full amount
	msg := h.testDeposit("0xfill2")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))

	child, err := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)
	require.NoError(t, err)
	require.NotNil(t, child)
	assert.Equal(t, models.SwapStateFailed, child.State)
	assert.Contains(t, child.LastError, "over-fill")
	assert.Empty(t, h.near.createCalls, "over-filling deposit is never locked")

	remaining, err := h.fills.Remaining(context.Background(), parent.ID, parent.FromAmount)
	require.NoError(t, err)
	assert.Equal(t, parent.FromAmount, remaining.String())
}

func TestPartialFill_RefundMarksFill(t *testing.T) {
	h := newHarness(t)
	hashlock := testHashlock()

	parent, err := NewDirectSubmission(h.coord).Submit(context.Background(), &OrderRequest{
		FromChain:  evmChain,
		ToChain:    nearChain,
		Amount:     "2000000000000000000",
		SecretHash: hashlock,
		Recipient:  "alice.near",
		Timelock:   time.Now().Unix() + 3600,
	})
	require.NoError(t, err)

	msg := h.testDeposit("0xfill3")
	require.NoError(t, h.coord.HandleMessage(context.Background(), msg))
	child, _ := h.repo.GetBySourceEscrow(context.Background(), msg.EscrowRef)

	child.SourceTimelock = time.Now().Unix() - 10
	require.NoError(t, h.repo.Update(context.Background(), child))
	_, err = h.coord.SweepExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.SwapStateRefunded, h.repo.stateOf(t, child.ID))

	fills, err := h.fills.FillsFor(context.Background(), parent.ID)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Refunded)
}

func TestValidateOrderRequest(t *testing.T) {
	h := newHarness(t)
	valid := OrderRequest{
		FromChain:  evmChain,
		ToChain:    nearChain,
		Amount:     "1000",
		SecretHash: strings.Repeat("ab", 32),
		Initiator:  "0x1111111111111111111111111111111111111111",
		Recipient:  "alice.near",
		Timelock:   time.Now().Unix() + 3600,
	}
	require.NoError(t, h.coord.ValidateOrderRequest(&valid))

	tests := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{"unknown from chain", func(r *OrderRequest) { r.FromChain = "evm:1" }},
		{"unknown to chain", func(r *OrderRequest) { r.ToChain = "near:mainnet" }},
		{"same chain", func(r *OrderRequest) { r.ToChain = r.FromChain }},
		{"zero amount", func(r *OrderRequest) { r.Amount = "0" }},
		{"non-integer amount", func(r *OrderRequest) { r.Amount = "1.5" }},
		{"bad hashlock", func(r *OrderRequest) { r.SecretHash = "xyz" }},
		{"recipient not a near account", func(r *OrderRequest) { r.Recipient = "0x1111111111111111111111111111111111111111" }},
		{"initiator not an evm address", func(r *OrderRequest) { r.Initiator = "alice.near" }},
		{"past timelock", func(r *OrderRequest) { r.Timelock = time.Now().Unix() - 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			assert.Error(t, h.coord.ValidateOrderRequest(&req))
		})
	}
}

func TestDirectSubmission_RejectsOpenDuplicateHashlock(t *testing.T) {
	h := newHarness(t)
	req := &OrderRequest{
		FromChain:  evmChain,
		ToChain:    nearChain,
		Amount:     "1000",
		SecretHash: strings.Repeat("ab", 32),
		Recipient:  "alice.near",
	}
	sub := NewDirectSubmission(h.coord)

	_, err := sub.Submit(context.Background(), req)
	require.NoError(t, err)

	_, err = sub.Submit(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestMetaOrderSubmission(t *testing.T) {
	h := newHarness(t)
	sub := NewMetaOrderSubmission(h.coord)
	req := &OrderRequest{
		FromChain:  evmChain,
		ToChain:    nearChain,
		Amount:     "1000",
		SecretHash: strings.Repeat("ab", 32),
		Initiator:  "0x1111111111111111111111111111111111111111",
		Recipient:  "alice.near",
	}

	_, err := sub.Submit(context.Background(), req)
	require.Error(t, err, "signature missing")

	req.Signature = "0x1234"
	_, err = sub.Submit(context.Background(), req)
	require.Error(t, err, "signature too short")

	req.Signature = "0x" + strings.Repeat("11", 65)
	order, err := sub.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.SwapStateCreated, order.State)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "timelock_mismatch", failureReason(fmt.Errorf("wrap: %w", gateway.ErrTimelockMismatch)))
	assert.Equal(t, "value_mismatch", failureReason(gateway.ErrValueMismatch))
	assert.Equal(t, "invalid_state", failureReason(gateway.ErrInvalidState))
	assert.Equal(t, "fill_too_small", failureReason(auction.ErrFillTooSmall))
	assert.Equal(t, "other", failureReason(errors.New("boom")))
}
