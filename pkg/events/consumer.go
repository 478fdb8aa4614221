package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parceltrace/parceltrace/pkg/chaincode/delivery"
	"github.com/parceltrace/parceltrace/pkg/ledger"
)

// dedupWindowSize bounds the replay-suppression memory. After a
// reconnect the platform may redeliver events; (txId, blockNumber)
// inside this window are dropped, older replays reach clients, which
// must be idempotent anyway.
const dedupWindowSize = 1024

// PartyResolver resolves the users involved in a delivery: seller,
// customer, custodian and pending-handoff counterparty. The delivery
// service implements it under the service identity.
type PartyResolver interface {
	InvolvedParties(ctx context.Context, deliveryID string) ([]string, error)
}

// Broadcaster is the slice of ConnectionManager the consumer needs.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// Consumer is the supervised chaincode event worker: it keeps one
// subscription open under the service identity, decodes every event and
// routes it to delivery and user channels. On transport failure it
// reconnects with exponential backoff up to a bounded retry count; when
// the budget is exhausted it marks itself dead, which the health
// endpoint reports.
type Consumer struct {
	source     ledger.EventSource
	broadcast  Broadcaster
	resolver   PartyResolver
	maxRetries int

	alive  atomic.Bool
	seen   *dedupWindow
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConsumer creates a consumer. Call Start to begin.
func NewConsumer(source ledger.EventSource, broadcast Broadcaster, resolver PartyResolver, maxRetries int) *Consumer {
	return &Consumer{
		source:     source,
		broadcast:  broadcast,
		resolver:   resolver,
		maxRetries: maxRetries,
		seen:       newDedupWindow(dedupWindowSize),
	}
}

// Start launches the consumer loop.
func (c *Consumer) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.alive.Store(true)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(runCtx)
	}()
}

// Stop cancels the consumer and waits for it to exit.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Healthy reports whether the consumer still holds (or is still
// retrying for) an event subscription.
func (c *Consumer) Healthy() bool { return c.alive.Load() }

// run is the supervision loop: subscribe, drain, reconnect.
func (c *Consumer) run(ctx context.Context) {
	defer c.alive.Store(false)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 60 * time.Second
	bo.MaxElapsedTime = 0 // retry count is the bound, not elapsed time

	retries := 0
	for {
		if ctx.Err() != nil {
			return
		}

		events, err := c.source.ChaincodeEvents(ctx)
		if err != nil {
			retries++
			if retries > c.maxRetries {
				slog.Error("Event consumer exhausted reconnect budget — giving up",
					"retries", retries-1, "error", err)
				return
			}
			wait := bo.NextBackOff()
			slog.Warn("Event subscription failed, reconnecting",
				"attempt", retries, "wait", wait, "error", err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}

		retries = 0
		bo.Reset()
		slog.Info("Chaincode event subscription established")

		for ev := range events {
			c.handleEvent(ctx, ev)
		}
		// Channel closed: either shutdown or transport drop.
		if ctx.Err() != nil {
			return
		}
		slog.Warn("Chaincode event stream dropped, resubscribing")
	}
}

// handleEvent decodes one chaincode event and fans its entries out.
func (c *Consumer) handleEvent(ctx context.Context, ev *ledger.Event) {
	if c.seen.observed(ev.TxID, ev.BlockNumber) {
		slog.Debug("Dropping replayed event", "tx_id", ev.TxID, "block", ev.BlockNumber)
		return
	}

	for _, entry := range unpack(ev) {
		if err := c.dispatch(ctx, ev, entry.Name, entry.Payload); err != nil {
			slog.Warn("Failed to dispatch event",
				"event", entry.Name, "tx_id", ev.TxID, "error", err)
		}
	}
}

// unpack expands a batch envelope; a plain event yields one entry.
func unpack(ev *ledger.Event) []delivery.BatchedEvent {
	if ev.Name != delivery.EventBatch {
		return []delivery.BatchedEvent{{Name: ev.Name, Payload: ev.Payload}}
	}
	var entries []delivery.BatchedEvent
	if err := json.Unmarshal(ev.Payload, &entries); err != nil {
		slog.Warn("Malformed event batch", "tx_id", ev.TxID, "error", err)
		return nil
	}
	return entries
}

// dispatch routes one typed event to its delivery channel and to every
// involved user's channel. Clients only ever receive events for
// deliveries they are a party to because subscription to a delivery
// channel is authorized up front, and user channels receive only events
// whose involved-party set contains that user.
func (c *Consumer) dispatch(ctx context.Context, ev *ledger.Event, name string, payload []byte) error {
	msgType, ok := wsType[name]
	if !ok {
		return fmt.Errorf("unknown chaincode event %q", name)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	deliveryID, _ := fields["deliveryId"].(string)
	if deliveryID == "" {
		return fmt.Errorf("payload carries no deliveryId")
	}

	fields["type"] = msgType
	fields["transactionId"] = ev.TxID
	fields["blockNumber"] = ev.BlockNumber

	out, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	c.broadcast.Broadcast(DeliveryChannel(deliveryID), out)

	parties, err := c.resolver.InvolvedParties(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("failed to resolve parties for %s: %w", deliveryID, err)
	}
	for _, userID := range parties {
		c.broadcast.Broadcast(UserChannel(userID), out)
	}
	return nil
}

// dedupWindow is a bounded set of (txId, blockNumber) keys.
type dedupWindow struct {
	mu    sync.Mutex
	keys  map[string]bool
	order []string
	cap   int
}

func newDedupWindow(cap int) *dedupWindow {
	return &dedupWindow{keys: make(map[string]bool), cap: cap}
}

// observed records the key and reports whether it was already present.
func (w *dedupWindow) observed(txID string, block uint64) bool {
	key := fmt.Sprintf("%s@%d", txID, block)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.keys[key] {
		return true
	}
	w.keys[key] = true
	w.order = append(w.order, key)
	if len(w.order) > w.cap {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.keys, oldest)
	}
	return false
}
