// Swap Coordinator
// Drives each swap order through its lifecycle: price the deposit, lock the
// destination escrow, relay the revealed secret back to the source chain, and
// settle or refund. All transitions go through compare-and-swap state updates
// so concurrent cycles never double-process an order.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/auction"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/events"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/gateway"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/metrics"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/repository"
)

// Publisher fans lifecycle transitions out to the message bus
type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// ChainParams carries the per-chain pricing and timelock parameters
type ChainParams struct {
	Decimals       int
	TimelockOffset int64 // seconds added to the observed block time
	SafetyDeposit  *big.Int
}

// Coordinator owns the swap order state machine
type Coordinator struct {
	orders   repository.SwapOrderRepository
	fills    repository.PartialFillLedger
	gateways map[string]gateway.EscrowGateway
	params   map[string]ChainParams
	curve    *auction.Curve

	publisher Publisher

	maxRetries int
	retryDelay time.Duration

	// per-order serialization
	locks sync.Map
}

// NewCoordinator wires the state machine to its gateways and storage
func NewCoordinator(
	orders repository.SwapOrderRepository,
	fills repository.PartialFillLedger,
	gateways map[string]gateway.EscrowGateway,
	params map[string]ChainParams,
	curve *auction.Curve,
	publisher Publisher,
	maxRetries int,
	retryDelay time.Duration,
) *Coordinator {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if retryDelay <= 0 {
		retryDelay = 10 * time.Second
	}
	return &Coordinator{
		orders:     orders,
		fills:      fills,
		gateways:   gateways,
		params:     params,
		curve:      curve,
		publisher:  publisher,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

func (c *Coordinator) lockOrder(id string) func() {
	muIface, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// HandleMessage implements the watcher sink. Errors returned here abort the
// poll cycle, so only storage failures propagate; chain-side failures are
// absorbed into the order's retry bookkeeping.
func (c *Coordinator) HandleMessage(ctx context.Context, msg *models.CrossChainMessage) error {
	switch msg.Type {
	case models.MessageTypeDeposit:
		return c.handleDeposit(ctx, msg)
	case models.MessageTypeWithdrawal:
		return c.handleSecretRevealed(ctx, msg)
	case models.MessageTypeRefund:
		return c.handleRefundObserved(ctx, msg)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// handleDeposit registers a new source-side escrow as a swap order and starts
// driving it. A deposit whose hashlock matches an open parent order becomes a
// partial fill child instead of a standalone order.
func (c *Coordinator) handleDeposit(ctx context.Context, msg *models.CrossChainMessage) error {
	existing, err := c.orders.GetBySourceEscrow(ctx, msg.EscrowRef)
	if err != nil {
		return fmt.Errorf("order lookup by escrow %s failed: %w", msg.EscrowRef, err)
	}
	if existing != nil {
		// replay of a known deposit
		return nil
	}

	// our own destination escrow's creation event comes back to us as a
	// deposit; it confirms the lock, no new order
	byDest, err := c.orders.GetByDestEscrow(ctx, msg.EscrowRef)
	if err != nil {
		return fmt.Errorf("order lookup by dest escrow %s failed: %w", msg.EscrowRef, err)
	}
	if byDest != nil {
		return nil
	}

	actionable, err := c.depositActionable(ctx, msg)
	if err != nil {
		return err
	}
	if !actionable {
		return nil
	}

	order := &models.SwapOrder{
		ID:              uuid.New().String(),
		State:           models.SwapStateCreated,
		FromChain:       msg.SourceChain,
		ToChain:         msg.DestChain,
		SourceEscrowRef: msg.EscrowRef,
		SecretHash:      msg.SecretHash,
		FromAmount:      msg.Amount,
		Initiator:       msg.Sender,
		Recipient:       msg.Recipient,
		SourceTimelock:  msg.Timelock,
		MaxRetries:      c.maxRetries,
		ExpiresAt:       time.Unix(msg.Timelock, 0),
	}

	parent, err := c.matchParentOrder(ctx, msg)
	if err != nil {
		return err
	}
	if parent != nil {
		order.ParentOrderID = parent.ID
	}

	if err := c.orders.Create(ctx, order); err != nil {
		return fmt.Errorf("failed to create order for escrow %s: %w", msg.EscrowRef, err)
	}
	log.Printf("🆕 Swap order %s created: %s -> %s amount=%s hashlock=%s",
		order.ID, order.FromChain, order.ToChain, order.FromAmount, order.SecretHash)
	c.publishTransition(order, "")

	if parent != nil {
		if _, err := c.fills.RecordFill(ctx, parent.ID, order.ID, order.FromAmount, msg.SourceTxHash); err != nil {
			if errors.Is(err, repository.ErrOverFill) {
				log.Printf("❌ Order %s over-fills parent %s: %v", order.ID, parent.ID, err)
				return c.fail(ctx, order, fmt.Errorf("over-fill: %w", err))
			}
			return fmt.Errorf("failed to record fill for %s: %w", order.ID, err)
		}
		c.publishFill(ctx, parent, order)
	}

	c.drive(ctx, order, msg.BlockTimestamp)
	return nil
}

// depositActionable verifies a deposit against the live source escrow before
// any order exists for it: the escrow must be readable, active, funded by the
// claimed sender and not past its timelock. Anything else is dropped without
// persisting a terminal state; the event may simply be stale or forged.
func (c *Coordinator) depositActionable(ctx context.Context, msg *models.CrossChainMessage) (bool, error) {
	gw, err := c.gateway(msg.SourceChain)
	if err != nil {
		return false, err
	}

	escrow, err := gw.GetEscrow(ctx, msg.EscrowRef)
	if err != nil {
		if errors.Is(err, gateway.ErrEscrowNotFound) {
			log.Printf("⚠️ Deposit references missing escrow %s on %s, dropping", msg.EscrowRef, msg.SourceChain)
			return false, nil
		}
		return false, fmt.Errorf("failed to verify source escrow %s: %w", msg.EscrowRef, err)
	}

	if escrow.Status != models.EscrowStatusActive {
		log.Printf("⚠️ Deposit escrow %s is %s, dropping", msg.EscrowRef, escrow.Status)
		return false, nil
	}
	if msg.Sender != "" && !strings.EqualFold(escrow.Initiator, msg.Sender) {
		log.Printf("⚠️ Deposit sender %s does not match escrow initiator %s, dropping", msg.Sender, escrow.Initiator)
		return false, nil
	}
	if !strings.EqualFold(escrow.SecretHash, msg.SecretHash) {
		log.Printf("⚠️ Deposit hashlock does not match escrow %s, dropping", msg.EscrowRef)
		return false, nil
	}
	if escrow.Timelock > 0 && escrow.Timelock <= time.Now().Unix() {
		log.Printf("⚠️ Deposit escrow %s is already past its timelock, dropping", msg.EscrowRef)
		return false, nil
	}
	return true, nil
}

// matchParentOrder finds an open submitted parent with the same hashlock
func (c *Coordinator) matchParentOrder(ctx context.Context, msg *models.CrossChainMessage) (*models.SwapOrder, error) {
	parent, err := c.orders.GetBySecretHash(ctx, msg.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("parent lookup by hashlock failed: %w", err)
	}
	if parent == nil || parent.State.IsTerminal() || parent.SourceEscrowRef != "" {
		// only escrow-less submitted orders act as fillable parents
		return nil, nil
	}
	return parent, nil
}

// handleSecretRevealed reacts to a withdrawal on the destination chain: the
// secret is now public and the source escrow can be claimed.
func (c *Coordinator) handleSecretRevealed(ctx context.Context, msg *models.CrossChainMessage) error {
	order, err := c.findOrderForEscrow(ctx, msg)
	if err != nil {
		return err
	}
	if order == nil {
		log.Printf("⚠️ Withdrawal on unknown escrow %s, ignoring", msg.EscrowRef)
		return nil
	}

	unlock := c.lockOrder(order.ID)
	defer unlock()

	order, err = c.orders.GetByID(ctx, order.ID)
	if err != nil || order == nil {
		return err
	}
	if order.State.IsTerminal() || order.State == models.SwapStateSecretRevealed {
		return nil
	}

	if msg.Secret == "" {
		return fmt.Errorf("withdrawal event for order %s carries no secret", order.ID)
	}
	// the source escrow is what this secret will unlock; verify the preimage
	// against its hashlock before acting on it
	if !models.SecretMatchesHashlock(msg.Secret, order.SecretHash, models.KindOfChain(order.FromChain)) {
		log.Printf("⚠️ Secret revealed in tx %s does not match hashlock for order %s, ignoring", msg.SourceTxHash, order.ID)
		return nil
	}

	order.Secret = msg.Secret
	if err := c.orders.Update(ctx, order); err != nil {
		return fmt.Errorf("failed to store secret for %s: %w", order.ID, err)
	}
	if err := c.transition(ctx, order, models.SwapStateSecretRevealed); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil
		}
		return err
	}

	c.drive(ctx, order, msg.BlockTimestamp)
	return nil
}

// handleRefundObserved reacts to an on-chain refund of either escrow
func (c *Coordinator) handleRefundObserved(ctx context.Context, msg *models.CrossChainMessage) error {
	order, err := c.findOrderForEscrow(ctx, msg)
	if err != nil {
		return err
	}
	if order == nil {
		return nil
	}

	unlock := c.lockOrder(order.ID)
	defer unlock()

	order, err = c.orders.GetByID(ctx, order.ID)
	if err != nil || order == nil {
		return err
	}
	if order.State.IsTerminal() {
		return nil
	}

	log.Printf("↩️ Observed refund for order %s (escrow %s)", order.ID, msg.EscrowRef)

	// one side refunding does not settle the swap: the counterpart escrow may
	// still hold funds, so run the expiry path, which refunds whatever is
	// still active before the order goes terminal
	if order.State != models.SwapStateExpired {
		if err := c.transition(ctx, order, models.SwapStateExpired); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return nil
			}
			return err
		}
	}
	c.drive(ctx, order, msg.BlockTimestamp)
	return nil
}

// findOrderForEscrow resolves an order from either side's escrow reference,
// falling back to the hashlock.
func (c *Coordinator) findOrderForEscrow(ctx context.Context, msg *models.CrossChainMessage) (*models.SwapOrder, error) {
	order, err := c.orders.GetBySourceEscrow(ctx, msg.EscrowRef)
	if err != nil {
		return nil, err
	}
	if order != nil {
		return order, nil
	}
	if msg.SecretHash != "" {
		return c.orders.GetBySecretHash(ctx, msg.SecretHash)
	}
	// destination escrow refs are stored on the order row
	return c.orders.GetByDestEscrow(ctx, msg.EscrowRef)
}

// drive advances an order as far as it can go right now. Chain failures are
// absorbed into retry bookkeeping; only terminal or wait states stop the loop.
func (c *Coordinator) drive(ctx context.Context, order *models.SwapOrder, observedBlockTime int64) {
	for {
		prev := order.State
		err := c.advance(ctx, order, observedBlockTime)
		if err != nil {
			c.absorb(ctx, order, err)
			return
		}
		if order.State == prev {
			return
		}
	}
}

// advance performs at most one transition
func (c *Coordinator) advance(ctx context.Context, order *models.SwapOrder, observedBlockTime int64) error {
	switch order.State {
	case models.SwapStateCreated:
		return c.price(ctx, order)
	case models.SwapStatePriced:
		return c.lockDestination(ctx, order, observedBlockTime)
	case models.SwapStateDestEscrowPending:
		return c.recoverDestination(ctx, order)
	case models.SwapStateSecretRevealed:
		return c.settleSource(ctx, order)
	case models.SwapStateExpired:
		return c.refundSource(ctx, order)
	default:
		// DestEscrowLocked waits for the secret; terminal states stay put
		return nil
	}
}

// price computes the auction output amount and moves Created -> Priced
func (c *Coordinator) price(ctx context.Context, order *models.SwapOrder) error {
	fromAmount, ok := new(big.Int).SetString(order.FromAmount, 10)
	if !ok || fromAmount.Sign() <= 0 {
		return permanent(fmt.Errorf("invalid order amount %q", order.FromAmount))
	}

	elapsed := int64(time.Since(order.CreatedAt).Seconds())
	rateBump := auction.ComputeRate(elapsed, c.curve)

	fromParams, err := c.chainParams(order.FromChain)
	if err != nil {
		return permanent(err)
	}
	toParams, err := c.chainParams(order.ToChain)
	if err != nil {
		return permanent(err)
	}

	toAmount, err := auction.ComputeOutputAmount(fromAmount, rateBump, fromParams.Decimals, toParams.Decimals, c.curve)
	if err != nil {
		if errors.Is(err, auction.ErrFillTooSmall) {
			return permanent(err)
		}
		return err
	}

	order.RateBumpBps = rateBump
	order.ComputedToAmount = toAmount.String()
	// gas is quoted as a separate additive fee, never blended into the rate
	order.GasFee = auction.SettlementGasFee(c.curve.GasPriceEstimate).String()
	if err := c.orders.Update(ctx, order); err != nil {
		return err
	}
	metrics.AuctionRateBump.Observe(float64(rateBump))
	log.Printf("💱 Order %s priced: bump=%d bps, %s -> %s (gas fee %s)", order.ID, rateBump, order.FromAmount, order.ComputedToAmount, order.GasFee)
	return c.transition(ctx, order, models.SwapStatePriced)
}

// lockDestination creates the destination escrow: Priced -> DestEscrowPending
// -> DestEscrowLocked. The pending state is durable before broadcast so a
// crash mid-flight is recoverable by escrow search.
func (c *Coordinator) lockDestination(ctx context.Context, order *models.SwapOrder, observedBlockTime int64) error {
	gw, err := c.gateway(order.ToChain)
	if err != nil {
		return permanent(err)
	}
	toParams, err := c.chainParams(order.ToChain)
	if err != nil {
		return permanent(err)
	}

	toAmount, ok := new(big.Int).SetString(order.ComputedToAmount, 10)
	if !ok || toAmount.Sign() <= 0 {
		return permanent(fmt.Errorf("order %s has no priced amount", order.ID))
	}

	baseTime := observedBlockTime
	if baseTime <= 0 {
		baseTime = time.Now().Unix()
	}
	destCancellation := baseTime + toParams.TimelockOffset
	if order.SourceTimelock > 0 && destCancellation > order.SourceTimelock {
		return permanent(fmt.Errorf("%w: dest %d > src %d", gateway.ErrTimelockMismatch, destCancellation, order.SourceTimelock))
	}

	if err := c.transition(ctx, order, models.SwapStateDestEscrowPending); err != nil {
		return err
	}

	result, escrowRef, err := gw.CreateDestEscrow(ctx, &gateway.CreateEscrowParams{
		OrderID:           order.ID,
		SecretHash:        order.SecretHash,
		Recipient:         order.Recipient,
		Amount:            toAmount,
		SafetyDeposit:     toParams.SafetyDeposit,
		CancellationAt:    destCancellation,
		SrcCancellationAt: order.SourceTimelock,
	})
	if err != nil {
		if isGuardError(err) {
			return permanent(err)
		}
		return err
	}

	order.DestEscrowRef = escrowRef
	order.DestTimelock = destCancellation
	if err := c.orders.Update(ctx, order); err != nil {
		return err
	}
	log.Printf("🔒 Order %s destination locked: escrow=%s tx=%s cancellation=%d",
		order.ID, escrowRef, result.TxHash, destCancellation)
	return c.transition(ctx, order, models.SwapStateDestEscrowLocked)
}

// recoverDestination resolves a DestEscrowPending order after a crash: search
// the destination chain for an escrow with our hashlock before re-broadcasting.
func (c *Coordinator) recoverDestination(ctx context.Context, order *models.SwapOrder) error {
	gw, err := c.gateway(order.ToChain)
	if err != nil {
		return permanent(err)
	}

	escrow, err := gw.FindEscrowBySecretHash(ctx, order.SecretHash)
	if err != nil {
		if errors.Is(err, gateway.ErrEscrowNotFound) {
			// broadcast never landed; step back and re-lock
			log.Printf("🔁 Order %s pending escrow not found on %s, repricing", order.ID, order.ToChain)
			return c.transition(ctx, order, models.SwapStatePriced)
		}
		return err
	}

	order.DestEscrowRef = escrow.EscrowID
	order.DestTimelock = escrow.Timelock
	if err := c.orders.Update(ctx, order); err != nil {
		return err
	}
	log.Printf("🔎 Order %s recovered destination escrow %s", order.ID, escrow.EscrowID)
	return c.transition(ctx, order, models.SwapStateDestEscrowLocked)
}

// settleSource claims the source escrow with the revealed secret:
// SecretRevealed -> Withdrawn
func (c *Coordinator) settleSource(ctx context.Context, order *models.SwapOrder) error {
	if order.Secret == "" {
		return permanent(fmt.Errorf("order %s in secret_revealed without a secret", order.ID))
	}
	gw, err := c.gateway(order.FromChain)
	if err != nil {
		return permanent(err)
	}

	result, err := gw.Withdraw(ctx, order.SourceEscrowRef, order.Secret)
	if err != nil {
		if isGuardError(err) {
			return permanent(err)
		}
		return err
	}
	if result.TxHash != "" {
		log.Printf("💰 Order %s source escrow withdrawn tx=%s", order.ID, result.TxHash)
	}
	return c.transition(ctx, order, models.SwapStateWithdrawn)
}

// refundSource returns locked funds after expiry: Expired -> Refunded.
// The destination escrow, if locked, is refunded first so the relayer's own
// funds are not left behind.
func (c *Coordinator) refundSource(ctx context.Context, order *models.SwapOrder) error {
	if order.DestEscrowRef != "" {
		gw, err := c.gateway(order.ToChain)
		if err != nil {
			return permanent(err)
		}
		if _, err := gw.Refund(ctx, order.DestEscrowRef); err != nil {
			if errors.Is(err, gateway.ErrTimelockNotExpired) {
				// destination timelock lags the source's; retry later
				return err
			}
			if isGuardError(err) {
				log.Printf("⚠️ Order %s destination refund skipped: %v", order.ID, err)
			} else {
				return err
			}
		}
	}

	gw, err := c.gateway(order.FromChain)
	if err != nil {
		return permanent(err)
	}
	result, err := gw.Refund(ctx, order.SourceEscrowRef)
	if err != nil {
		if isGuardError(err) && !errors.Is(err, gateway.ErrTimelockNotExpired) {
			return permanent(err)
		}
		return err
	}
	if result.TxHash != "" {
		log.Printf("↩️ Order %s source escrow refunded tx=%s", order.ID, result.TxHash)
	}

	if order.ParentOrderID != "" {
		if err := c.markFillRefunded(ctx, order, result.TxHash); err != nil {
			log.Printf("⚠️ Failed to mark fill refunded for %s: %v", order.ID, err)
		}
	}
	return c.transition(ctx, order, models.SwapStateRefunded)
}

func (c *Coordinator) markFillRefunded(ctx context.Context, order *models.SwapOrder, txHash string) error {
	fills, err := c.fills.FillsFor(ctx, order.ParentOrderID)
	if err != nil {
		return err
	}
	for _, fill := range fills {
		if fill.ChildOrderID == order.ID && !fill.Refunded {
			return c.fills.MarkRefunded(ctx, fill.ID, txHash)
		}
	}
	return nil
}

// transition performs the compare-and-swap state move and publishes it
func (c *Coordinator) transition(ctx context.Context, order *models.SwapOrder, to models.SwapState) error {
	from := order.State
	if err := c.orders.UpdateState(ctx, order.ID, from, to); err != nil {
		return err
	}
	order.State = to
	metrics.SwapTransitions.WithLabelValues(string(from), string(to)).Inc()
	log.Printf("🔀 Order %s: %s -> %s", order.ID, from, to)
	c.publishTransition(order, from)
	return nil
}

func (c *Coordinator) publishTransition(order *models.SwapOrder, from models.SwapState) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish("orders."+string(order.State), &events.OrderTransition{
		OrderID:   order.ID,
		FromState: from,
		State:     order.State,
		FromChain: order.FromChain,
		ToChain:   order.ToChain,
		Amount:    order.FromAmount,
		ToAmount:  order.ComputedToAmount,
		LastError: order.LastError,
		At:        time.Now(),
	}); err != nil {
		log.Printf("⚠️ Failed to publish order transition: %v", err)
	}
}

func (c *Coordinator) publishFill(ctx context.Context, parent, child *models.SwapOrder) {
	if c.publisher == nil {
		return
	}
	remaining := ""
	if r, err := c.fills.Remaining(ctx, parent.ID, parent.FromAmount); err == nil {
		remaining = r.String()
	}
	if err := c.publisher.Publish("fills."+parent.ID, &events.FillRecorded{
		ParentOrderID: parent.ID,
		ChildOrderID:  child.ID,
		FilledAmount:  child.FromAmount,
		Remaining:     remaining,
		At:            time.Now(),
	}); err != nil {
		log.Printf("⚠️ Failed to publish fill event: %v", err)
	}
}

// absorb records a step failure on the order: transient errors schedule a
// retry, permanent errors and exhausted budgets mark the order failed.
func (c *Coordinator) absorb(ctx context.Context, order *models.SwapOrder, err error) {
	if errors.Is(err, repository.ErrStaleState) {
		// another cycle moved the order on; nothing to record
		return
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		if ferr := c.fail(ctx, order, perm.err); ferr != nil {
			log.Printf("❌ Failed to mark order %s failed: %v", order.ID, ferr)
		}
		return
	}

	order.RetryCount++
	order.LastError = err.Error()
	if order.RetryCount > order.MaxRetries {
		log.Printf("❌ Order %s exhausted %d retries: %v", order.ID, order.MaxRetries, err)
		if ferr := c.fail(ctx, order, err); ferr != nil {
			log.Printf("❌ Failed to mark order %s failed: %v", order.ID, ferr)
		}
		return
	}

	next := time.Now().Add(c.retryDelay)
	order.NextRetryAt = &next
	if uerr := c.orders.Update(ctx, order); uerr != nil {
		log.Printf("❌ Failed to record retry for order %s: %v", order.ID, uerr)
		return
	}
	metrics.ContractCallRetries.WithLabelValues(order.ToChain, string(order.State)).Inc()
	log.Printf("🔁 Order %s retry %d/%d at %s: %v", order.ID, order.RetryCount, order.MaxRetries, next.Format(time.RFC3339), err)
}

func (c *Coordinator) fail(ctx context.Context, order *models.SwapOrder, cause error) error {
	order.LastError = cause.Error()
	if err := c.orders.Update(ctx, order); err != nil {
		return err
	}
	metrics.SwapFailures.WithLabelValues(failureReason(cause)).Inc()
	if err := c.orders.UpdateState(ctx, order.ID, order.State, models.SwapStateFailed); err != nil {
		return err
	}
	from := order.State
	order.State = models.SwapStateFailed
	log.Printf("❌ Order %s failed (was %s): %v", order.ID, from, cause)
	c.publishTransition(order, from)
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, gateway.ErrTimelockMismatch):
		return "timelock_mismatch"
	case errors.Is(err, gateway.ErrValueMismatch):
		return "value_mismatch"
	case errors.Is(err, gateway.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, auction.ErrFillTooSmall), errors.Is(err, gateway.ErrFillTooSmall):
		return "fill_too_small"
	default:
		return "other"
	}
}

func (c *Coordinator) gateway(chainID string) (gateway.EscrowGateway, error) {
	gw, ok := c.gateways[chainID]
	if !ok {
		return nil, fmt.Errorf("no gateway for chain %q", chainID)
	}
	return gw, nil
}

func (c *Coordinator) chainParams(chainID string) (ChainParams, error) {
	params, ok := c.params[chainID]
	if !ok {
		return ChainParams{}, fmt.Errorf("no chain parameters for %q", chainID)
	}
	return params, nil
}

// permanentError wraps failures no retry can fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

func isGuardError(err error) bool {
	return errors.Is(err, gateway.ErrInvalidState) ||
		errors.Is(err, gateway.ErrTimelockMismatch) ||
		errors.Is(err, gateway.ErrValueMismatch) ||
		errors.Is(err, gateway.ErrFillTooSmall)
}
