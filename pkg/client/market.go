package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"grimhollow/internal/game"
	"grimhollow/internal/protocol"
)

// Tab is the market surface currently shown.
type Tab int

const (
	TabBuy Tab = iota
	TabSell
	TabListings
)

// ErrBusy is returned when an operation is rejected because another one is
// still outstanding on this surface.
var ErrBusy = errors.New("market: operation already in flight")

// transientDuration is how long advisory messages stay on screen.
const transientDuration = 3 * time.Second

// Sender is the slice of the connection the engine needs.
type Sender interface {
	Send(env protocol.Envelope) error
	Online() bool
}

// Notifier shows short-lived advisory messages to the player. The rendering
// layer implements it.
type Notifier interface {
	Transient(msg string, d time.Duration)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(msg string, d time.Duration)

func (f NotifierFunc) Transient(msg string, d time.Duration) { f(msg, d) }

// Engine is the market transaction state machine for one client. It enforces
// single-flight (at most one outstanding market request), checks local
// preconditions before putting anything on the wire, and applies state
// transitions only after a confirmed server response.
type Engine struct {
	mu sync.Mutex

	sender Sender
	router *Router
	player *game.PlayerState
	notify Notifier
	log    zerolog.Logger
	key    protocol.ListenerKey

	tab             Tab
	retrieving      bool
	retrievingSince time.Time
	timeout         time.Duration // 0 disables the stale-lock recovery
	now             func() time.Time

	marketItems []game.MarketItem // buy tab cache
	listings    []game.MarketItem // own listings cache
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithTimeout bounds how long a pending operation may hold the single-flight
// lock. Once expired, the next operation unlocks it and surfaces a transient
// error instead of leaving the surface wedged forever. 0 disables recovery.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithEngineClock overrides the time source, used by tests.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a market engine and subscribes it on the router under a
// fresh listener key. Call Close when the surface goes away.
func NewEngine(sender Sender, router *Router, player *game.PlayerState, notify Notifier, log zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		sender:  sender,
		router:  router,
		player:  player,
		notify:  notify,
		log:     log.With().Str("component", "market").Logger(),
		key:     protocol.ListenerKey("market." + uuid.NewString()),
		timeout: 15 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	router.Subscribe(e.key, e)
	return e
}

// Close unsubscribes the engine; responses arriving afterwards are dropped
// by the router.
func (e *Engine) Close() {
	e.router.Unsubscribe(e.key)
}

// ListenerKey returns the key responses for this engine arrive under.
func (e *Engine) ListenerKey() protocol.ListenerKey { return e.key }

// Tab returns the active surface tab.
func (e *Engine) Tab() Tab {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tab
}

// SetTab switches the active surface tab.
func (e *Engine) SetTab(tab Tab) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tab = tab
}

// Busy reports whether an operation is outstanding.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retrieving
}

// MarketItems returns the cached buy-tab listings.
func (e *Engine) MarketItems() []game.MarketItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]game.MarketItem, len(e.marketItems))
	copy(out, e.marketItems)
	return out
}

// Listings returns the cached own listings.
func (e *Engine) Listings() []game.MarketItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]game.MarketItem, len(e.listings))
	copy(out, e.listings)
	return out
}

// RefreshMarket requests the active listings for the buy tab.
func (e *Engine) RefreshMarket() error {
	return e.request(protocol.MarketPayload{
		Action:    protocol.ActionRetrieveItems,
		Character: e.player.Character,
	})
}

// RefreshListings requests the player's own listings.
func (e *Engine) RefreshListings() error {
	return e.request(protocol.MarketPayload{
		Action:    protocol.ActionShowListings,
		Character: e.player.Character,
	})
}

// Buy sends a buy request for item. Local preconditions are checked first:
// violating one yields a transient message and no request is sent.
func (e *Engine) Buy(item game.MarketItem) error {
	e.mu.Lock()
	if e.player.Gold < item.Price {
		e.mu.Unlock()
		e.transient("Not enough gold")
		return nil
	}
	if e.player.Inventory.Full() {
		e.mu.Unlock()
		e.transient("Your inventory is full")
		return nil
	}
	e.mu.Unlock()

	return e.request(protocol.MarketPayload{
		Action:    protocol.ActionBuyItem,
		Character: e.player.Character,
		Item:      &item,
	})
}

// Register lists the item at origin for the given price.
func (e *Engine) Register(origin game.SlotRef, price int64) error {
	if price <= 0 {
		e.transient("Price must be greater than zero")
		return nil
	}
	e.mu.Lock()
	item, ok := e.player.Inventory.At(origin)
	e.mu.Unlock()
	if !ok {
		e.transient("Nothing to sell in that slot")
		return nil
	}

	listing := game.MarketItem{
		UID:     item.UID,
		Seller:  e.player.Character,
		Price:   price,
		Level:   item.Level,
		Quality: item.Quality,
		Origin:  &origin,
	}
	return e.request(protocol.MarketPayload{
		Action:    protocol.ActionRegisterItem,
		Character: e.player.Character,
		Item:      &listing,
	})
}

// Remove withdraws an unsold listing; the item returns to the inventory, so
// a full inventory rejects locally.
func (e *Engine) Remove(listing game.MarketItem) error {
	e.mu.Lock()
	full := e.player.Inventory.Full()
	e.mu.Unlock()
	if full {
		e.transient("Your inventory is full")
		return nil
	}
	return e.request(protocol.MarketPayload{
		Action:    protocol.ActionRemoveItem,
		Character: e.player.Character,
		Item:      &listing,
	})
}

// Collect claims the gold from a sold listing. Only gold is returned, so
// there is no local precondition.
func (e *Engine) Collect(listing game.MarketItem) error {
	return e.request(protocol.MarketPayload{
		Action:    protocol.ActionCollect,
		Character: e.player.Character,
		Item:      &listing,
	})
}

// request acquires the single-flight lock and puts the envelope on the wire.
func (e *Engine) request(p protocol.MarketPayload) error {
	if !e.sender.Online() {
		e.transient("You are offline")
		return ErrOffline
	}
	if err := e.acquire(); err != nil {
		return err
	}

	env, err := protocol.NewRequest(protocol.KindMarket, e.key, p)
	if err != nil {
		e.release()
		return err
	}
	if err := e.sender.Send(env); err != nil {
		e.release()
		e.transient("You are offline")
		return err
	}
	return nil
}

func (e *Engine) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.retrieving {
		if e.timeout > 0 && e.now().Sub(e.retrievingSince) >= e.timeout {
			// The previous response never arrived; unwedge the surface.
			e.log.Warn().Msg("pending market request expired")
			e.transientLocked("The market is not responding, try again")
			e.retrieving = false
		} else {
			return ErrBusy
		}
	}
	e.retrieving = true
	e.retrievingSince = e.now()
	return nil
}

func (e *Engine) release() {
	e.mu.Lock()
	e.retrieving = false
	e.mu.Unlock()
}

// OnMessage applies a market response. The single-flight lock is cleared
// first, success or failure; only an Ok flag mutates player state.
func (e *Engine) OnMessage(env protocol.Envelope) {
	if env.Kind != protocol.KindMarket || !env.IsResponse() {
		return
	}

	var p protocol.MarketPayload
	decodeErr := env.DecodePayload(&p)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.retrieving = false

	if decodeErr != nil {
		e.log.Warn().Err(decodeErr).Msg("malformed market response")
		return
	}
	if env.Flag != protocol.FlagOk {
		e.transientLocked(failureMessage(p.Action, env.Flag))
		return
	}
	e.applyLocked(p)
}

// applyLocked performs the state transition for a confirmed action.
func (e *Engine) applyLocked(p protocol.MarketPayload) {
	switch p.Action {
	case protocol.ActionRetrieveItems:
		e.marketItems = p.Items

	case protocol.ActionShowListings:
		e.listings = p.Items

	case protocol.ActionBuyItem:
		if p.Item == nil {
			return
		}
		e.player.Gold -= p.Item.Price
		if _, err := e.player.Inventory.Add(p.Item.AsItem()); err != nil {
			// Precondition held at send time; only a concurrent local
			// mutation can get us here.
			e.log.Error().Err(err).Int64("mid", p.Item.MID).Msg("bought item does not fit")
		}
		e.marketItems = removeByMID(e.marketItems, p.Item.MID)
		e.transientLocked(fmt.Sprintf("Bought %s for %d gold", p.Item.UID, p.Item.Price))

	case protocol.ActionRegisterItem:
		if p.Item == nil {
			return
		}
		if p.Item.Origin != nil {
			if _, err := e.player.Inventory.Remove(*p.Item.Origin); err != nil {
				e.log.Error().Err(err).Int64("mid", p.Item.MID).Msg("registered item missing from slot")
			}
		}
		registered := *p.Item
		registered.Origin = nil
		e.listings = append(e.listings, registered)
		e.transientLocked(fmt.Sprintf("Listed %s for %d gold", p.Item.UID, p.Item.Price))

	case protocol.ActionRemoveItem:
		if p.Item == nil {
			return
		}
		e.listings = removeByMID(e.listings, p.Item.MID)
		if _, err := e.player.Inventory.Add(p.Item.AsItem()); err != nil {
			e.log.Error().Err(err).Int64("mid", p.Item.MID).Msg("removed listing does not fit")
		}

	case protocol.ActionCollect:
		if p.Item == nil {
			return
		}
		e.player.Gold += p.Item.Price
		e.listings = removeByMID(e.listings, p.Item.MID)
		e.transientLocked(fmt.Sprintf("Collected %d gold", p.Item.Price))
	}
}

func (e *Engine) transient(msg string) {
	if e.notify != nil {
		e.notify.Transient(msg, transientDuration)
	}
}

// transientLocked is safe to call under e.mu; the notifier must not call
// back into the engine.
func (e *Engine) transientLocked(msg string) {
	if e.notify != nil {
		e.notify.Transient(msg, transientDuration)
	}
}

func removeByMID(items []game.MarketItem, mid int64) []game.MarketItem {
	out := items[:0]
	for _, it := range items {
		if it.MID != mid {
			out = append(out, it)
		}
	}
	return out
}

// failureMessage translates a non-Ok (action, flag) pair into the advisory
// text shown to the player. Losing a buy race is informational, not an
// error: the winner got the item, the loser's gold is untouched.
func failureMessage(action protocol.MarketAction, flag protocol.Flag) string {
	switch {
	case action == protocol.ActionBuyItem && (flag == protocol.FlagItemAlreadyBought || flag == protocol.FlagItemAlreadySold):
		return "Too late, someone already bought that item"
	case action == protocol.ActionRetrieveItems && flag == protocol.FlagEmptyMarket:
		return "The market has nothing for sale right now"
	case action == protocol.ActionShowListings && flag == protocol.FlagNoItemsSoldByPlayer:
		return "You have no items on the market"
	case action == protocol.ActionRemoveItem && flag == protocol.FlagItemAlreadySold:
		return "That listing was already sold"
	case action == protocol.ActionCollect && flag == protocol.FlagItemAlreadyCollected:
		return "Already collected"
	default:
		return "The market request failed, try again"
	}
}
