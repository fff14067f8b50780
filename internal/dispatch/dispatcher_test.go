package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"grimhollow/internal/auth"
	"grimhollow/internal/game"
	"grimhollow/internal/presence"
	"grimhollow/internal/protocol"
	"grimhollow/internal/store"
)

func newTestDispatcher(t *testing.T, st store.Store) *Dispatcher {
	t.Helper()
	tracker := presence.New(time.Minute, st, zerolog.Nop())
	tokens := auth.NewManager("test-secret", time.Hour)
	return New(st, tracker, tokens, nil, nil, zerolog.Nop())
}

func request(t *testing.T, kind protocol.Kind, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewRequest(kind, "test.listener", payload)
	require.NoError(t, err)
	return env
}

func TestSignupAndLoginFlow(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t, store.NewMemory())

	resp := d.Dispatch(ctx, request(t, protocol.KindSignup, protocol.SignupPayload{
		Account: "acct", Password: "hunter2", Character: "Alice",
	}))
	require.Equal(t, protocol.FlagOk, resp.Flag)
	require.Equal(t, protocol.KindSignup, resp.Kind)
	require.Equal(t, protocol.ListenerKey("test.listener"), resp.Listener)

	resp = d.Dispatch(ctx, request(t, protocol.KindSignup, protocol.SignupPayload{
		Account: "acct", Password: "other", Character: "Bob",
	}))
	require.Equal(t, protocol.FlagAccountTaken, resp.Flag)

	resp = d.Dispatch(ctx, request(t, protocol.KindLogin, protocol.LoginPayload{
		Account: "acct", Password: "wrong",
	}))
	require.Equal(t, protocol.FlagAccountPasswordMismatch, resp.Flag)

	resp = d.Dispatch(ctx, request(t, protocol.KindLogin, protocol.LoginPayload{
		Account: "nobody", Password: "hunter2",
	}))
	require.Equal(t, protocol.FlagAccountPasswordMismatch, resp.Flag)

	resp = d.Dispatch(ctx, request(t, protocol.KindLogin, protocol.LoginPayload{
		Account: "acct", Password: "hunter2",
	}))
	require.Equal(t, protocol.FlagOk, resp.Flag)
	var login protocol.LoginResult
	require.NoError(t, resp.DecodePayload(&login))
	require.Equal(t, "Alice", login.Character)
	require.NotEmpty(t, login.Token)

	// The first login put Alice online; a second one is rejected.
	resp = d.Dispatch(ctx, request(t, protocol.KindLogin, protocol.LoginPayload{
		Account: "acct", Password: "hunter2",
	}))
	require.Equal(t, protocol.FlagCharacterAlreadyOnline, resp.Flag)
}

func TestMarketRetrieveAndRegister(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t, store.NewMemory())

	resp := d.Dispatch(ctx, request(t, protocol.KindMarket, protocol.MarketPayload{
		Action: protocol.ActionRetrieveItems, Character: "alice",
	}))
	require.Equal(t, protocol.FlagEmptyMarket, resp.Flag)

	origin := &game.SlotRef{Page: 0, Row: 1, Col: 2}
	resp = d.Dispatch(ctx, request(t, protocol.KindMarket, protocol.MarketPayload{
		Action:    protocol.ActionRegisterItem,
		Character: "alice",
		Item:      &game.MarketItem{UID: "sword", Seller: "alice", Price: 120, Origin: origin},
	}))
	require.Equal(t, protocol.FlagOk, resp.Flag)
	var reg protocol.MarketPayload
	require.NoError(t, resp.DecodePayload(&reg))
	require.NotNil(t, reg.Item)
	require.NotZero(t, reg.Item.MID, "server must assign mid")
	require.NotNil(t, reg.Item.Origin, "origin must be echoed so the client can clear the slot")
	require.Equal(t, *origin, *reg.Item.Origin)

	resp = d.Dispatch(ctx, request(t, protocol.KindMarket, protocol.MarketPayload{
		Action: protocol.ActionRetrieveItems, Character: "bob",
	}))
	require.Equal(t, protocol.FlagOk, resp.Flag)
	var list protocol.MarketPayload
	require.NoError(t, resp.DecodePayload(&list))
	require.Len(t, list.Items, 1)
	require.Equal(t, reg.Item.MID, list.Items[0].MID)
}

func TestMarketRegisterRejectsBadPrice(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t, store.NewMemory())

	resp := d.Dispatch(ctx, request(t, protocol.KindMarket, protocol.MarketPayload{
		Action:    protocol.ActionRegisterItem,
		Character: "alice",
		Item:      &game.MarketItem{UID: "sword", Seller: "alice", Price: 0},
	}))
	require.Equal(t, protocol.FlagGeneralError, resp.Flag)
}

func TestMarketBuyLifecycleFlags(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	d := newTestDispatcher(t, st)

	item := &game.MarketItem{UID: "helm", Seller: "alice", Price: 50}
	flag, err := st.RegisterListing(ctx, item)
	require.NoError(t, err)
	require.Equal(t, protocol.FlagOk, flag)

	resp := d.Dispatch(ctx, request(t, protocol.KindMarket, protocol.MarketPayload{
		Action: protocol.ActionBuyItem, Character: "bob", Item: item,
	}))
	require.Equal(t, protocol.FlagOk, resp.Flag)
	var bought protocol.MarketPayload
	require.NoError(t, resp.DecodePayload(&bought))
	require.True(t, bought.Item.Sold)

	// The loser of the race gets an informational flag, not an error.
	resp = d.Dispatch(ctx, request(t, protocol.KindMarket, protocol.MarketPayload{
		Action: protocol.ActionBuyItem, Character: "carol", Item: item,
	}))
	require.Equal(t, protocol.FlagItemAlreadyBought, resp.Flag)

	resp = d.Dispatch(ctx, request(t, protocol.KindMarket, protocol.MarketPayload{
		Action: protocol.ActionRemoveItem, Character: "alice", Item: item,
	}))
	require.Equal(t, protocol.FlagItemAlreadySold, resp.Flag)

	resp = d.Dispatch(ctx, request(t, protocol.KindMarket, protocol.MarketPayload{
		Action: protocol.ActionCollect, Character: "alice", Item: item,
	}))
	require.Equal(t, protocol.FlagOk, resp.Flag)

	resp = d.Dispatch(ctx, request(t, protocol.KindMarket, protocol.MarketPayload{
		Action: protocol.ActionCollect, Character: "alice", Item: item,
	}))
	require.Equal(t, protocol.FlagItemAlreadyCollected, resp.Flag)
}

type erroringStore struct {
	store.Store
}

func (erroringStore) ActiveListings(context.Context, string) ([]game.MarketItem, error) {
	return nil, errors.New("disk on fire")
}

func TestStoreErrorBecomesGeneralError(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t, erroringStore{store.NewMemory()})

	resp := d.Dispatch(ctx, request(t, protocol.KindMarket, protocol.MarketPayload{
		Action: protocol.ActionRetrieveItems, Character: "alice",
	}))
	require.Equal(t, protocol.FlagGeneralError, resp.Flag)
	require.Equal(t, protocol.KindMarket, resp.Kind)
}

type panickingStore struct {
	store.Store
}

func (panickingStore) TopRanking(context.Context, int) ([]protocol.RankingEntry, error) {
	panic("ranking gone wrong")
}

func TestHandlerPanicBecomesGeneralError(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t, panickingStore{store.NewMemory()})

	resp := d.Dispatch(ctx, request(t, protocol.KindRanking, protocol.RankingPayload{Limit: 5}))
	require.Equal(t, protocol.FlagGeneralError, resp.Flag)

	// The dispatcher survives; the next request is handled normally.
	resp = d.Dispatch(ctx, request(t, protocol.KindAck, protocol.AckPayload{Character: "alice"}))
	require.Equal(t, protocol.FlagOk, resp.Flag)
}

func TestMalformedPayloadBecomesGeneralError(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t, store.NewMemory())

	env := protocol.Envelope{Kind: protocol.KindMarket, Listener: "test.listener"}
	resp := d.Dispatch(ctx, env)
	require.Equal(t, protocol.FlagGeneralError, resp.Flag)
}

func TestMissionSaveAndRetrieve(t *testing.T) {
	ctx := context.Background()
	d := newTestDispatcher(t, store.NewMemory())

	resp := d.Dispatch(ctx, request(t, protocol.KindMissionData, protocol.MissionPayload{
		Action:    protocol.ActionSaveMission,
		Character: "alice",
		Mission:   &protocol.MissionRecord{ID: "rats-in-the-cellar", Progress: 3},
	}))
	require.Equal(t, protocol.FlagOk, resp.Flag)

	resp = d.Dispatch(ctx, request(t, protocol.KindMissionData, protocol.MissionPayload{
		Action: protocol.ActionRetrieveMissions, Character: "alice",
	}))
	require.Equal(t, protocol.FlagOk, resp.Flag)
	var missions protocol.MissionPayload
	require.NoError(t, resp.DecodePayload(&missions))
	require.Len(t, missions.Missions, 1)
	require.Equal(t, 3, missions.Missions[0].Progress)
}

func TestLogoffRemovesPresence(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	tracker := presence.New(time.Minute, st, zerolog.Nop())
	tokens := auth.NewManager("test-secret", time.Hour)
	d := New(st, tracker, tokens, nil, nil, zerolog.Nop())

	resp := d.Dispatch(ctx, request(t, protocol.KindAck, protocol.AckPayload{Character: "alice"}))
	require.Equal(t, protocol.FlagOk, resp.Flag)
	require.True(t, tracker.Online("alice"))

	resp = d.Dispatch(ctx, request(t, protocol.KindLogoff, protocol.LogoffPayload{Character: "alice"}))
	require.Equal(t, protocol.FlagOk, resp.Flag)
	require.False(t, tracker.Online("alice"))
}
