package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"grimhollow/internal/game"
	"grimhollow/internal/protocol"
)

func TestRegisterAssignsUniqueMIDs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	seen := make(map[int64]bool)
	for i := 0; i < 50; i++ {
		item := &game.MarketItem{UID: "sword", Seller: "alice", Price: 10}
		flag, err := m.RegisterListing(ctx, item)
		require.NoError(t, err)
		require.Equal(t, protocol.FlagOk, flag)
		require.False(t, seen[item.MID], "mid %d assigned twice", item.MID)
		seen[item.MID] = true
	}
}

func TestDoubleBuyRaceHasExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	item := &game.MarketItem{UID: "amulet", Seller: "carol", Price: 500}
	flag, err := m.RegisterListing(ctx, item)
	require.NoError(t, err)
	require.Equal(t, protocol.FlagOk, flag)

	const buyers = 8
	flags := make([]protocol.Flag, buyers)
	errs := make([]error, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			flags[i], errs[i] = m.BuyListing(ctx, item.MID, "buyer")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	wins, losses := 0, 0
	for _, f := range flags {
		switch f {
		case protocol.FlagOk:
			wins++
		case protocol.FlagItemAlreadyBought:
			losses++
		default:
			t.Fatalf("unexpected flag %s", f)
		}
	}
	require.Equal(t, 1, wins, "exactly one buyer must win")
	require.Equal(t, buyers-1, losses)
}

func TestRegisterBuyShowListingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	item := &game.MarketItem{
		UID: "ring", Seller: "alice", Price: 500,
		Origin: &game.SlotRef{Page: 1, Row: 2, Col: 3},
	}
	flag, err := m.RegisterListing(ctx, item)
	require.NoError(t, err)
	require.Equal(t, protocol.FlagOk, flag)
	require.NotZero(t, item.MID)

	// Another character sees it; the seller does not see their own listing
	// on the buy tab.
	active, err := m.ActiveListings(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Nil(t, active[0].Origin, "origin is client-only and must not survive registration")

	own, err := m.ActiveListings(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, own)

	flag, err = m.BuyListing(ctx, item.MID, "bob")
	require.NoError(t, err)
	require.Equal(t, protocol.FlagOk, flag)

	listings, err := m.ListingsBySeller(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, item.MID, listings[0].MID)
	require.True(t, listings[0].Sold)
	require.Equal(t, int64(500), listings[0].Price)

	// Sold listings are no longer buyable.
	active, err = m.ActiveListings(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestRemoveFailsOnceSold(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	item := &game.MarketItem{UID: "helm", Seller: "alice", Price: 30}
	_, err := m.RegisterListing(ctx, item)
	require.NoError(t, err)

	flag, err := m.BuyListing(ctx, item.MID, "bob")
	require.NoError(t, err)
	require.Equal(t, protocol.FlagOk, flag)

	flag, err = m.RemoveListing(ctx, item.MID, "alice")
	require.NoError(t, err)
	require.Equal(t, protocol.FlagItemAlreadySold, flag)
}

func TestCollectIsOneShot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	item := &game.MarketItem{UID: "gem", Seller: "alice", Price: 75}
	_, err := m.RegisterListing(ctx, item)
	require.NoError(t, err)

	// Not collectable until sold.
	flag, err := m.CollectListing(ctx, item.MID, "alice")
	require.NoError(t, err)
	require.Equal(t, protocol.FlagItemAlreadyCollected, flag)

	_, err = m.BuyListing(ctx, item.MID, "bob")
	require.NoError(t, err)

	flag, err = m.CollectListing(ctx, item.MID, "alice")
	require.NoError(t, err)
	require.Equal(t, protocol.FlagOk, flag)

	flag, err = m.CollectListing(ctx, item.MID, "alice")
	require.NoError(t, err)
	require.Equal(t, protocol.FlagItemAlreadyCollected, flag)
}

func TestCreateAccountFlags(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	flag, err := m.CreateAccount(ctx, PlayerRecord{Account: "a1", Character: "Alice"})
	require.NoError(t, err)
	require.Equal(t, protocol.FlagOk, flag)

	flag, err = m.CreateAccount(ctx, PlayerRecord{Account: "a1", Character: "Other"})
	require.NoError(t, err)
	require.Equal(t, protocol.FlagAccountTaken, flag)

	flag, err = m.CreateAccount(ctx, PlayerRecord{Account: "a2", Character: "Alice"})
	require.NoError(t, err)
	require.Equal(t, protocol.FlagCharacterNameTaken, flag)
}

func TestTopRankingOrdersByLevelThenGold(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for _, rec := range []PlayerRecord{
		{Account: "a", Character: "Low", Level: 2, Gold: 999},
		{Account: "b", Character: "Rich", Level: 5, Gold: 500},
		{Account: "c", Character: "Poor", Level: 5, Gold: 10},
	} {
		flag, err := m.CreateAccount(ctx, rec)
		require.NoError(t, err)
		require.Equal(t, protocol.FlagOk, flag)
	}

	entries, err := m.TopRanking(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Rich", entries[0].Character)
	require.Equal(t, "Poor", entries[1].Character)
}
