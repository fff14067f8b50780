package store

import (
	"context"
	"sort"
	"sync"

	"grimhollow/internal/game"
	"grimhollow/internal/protocol"
)

// Memory is an in-process Store. A single mutex covers every operation, so
// the compare-and-set on a listing's sold state is trivially atomic. Used by
// tests and single-node deployments without durability needs.
type Memory struct {
	mu       sync.Mutex
	players  map[string]PlayerRecord // keyed by account
	listings map[int64]*game.MarketItem
	missions map[string]map[string]protocol.MissionRecord
	sensors  map[string][]protocol.SensorReading
	nextMID  int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		players:  make(map[string]PlayerRecord),
		listings: make(map[int64]*game.MarketItem),
		missions: make(map[string]map[string]protocol.MissionRecord),
		sensors:  make(map[string][]protocol.SensorReading),
	}
}

func (m *Memory) CreateAccount(_ context.Context, rec PlayerRecord) (protocol.Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.players[rec.Account]; ok {
		return protocol.FlagAccountTaken, nil
	}
	for _, existing := range m.players {
		if existing.Character == rec.Character {
			return protocol.FlagCharacterNameTaken, nil
		}
	}
	m.players[rec.Account] = rec
	return protocol.FlagOk, nil
}

func (m *Memory) AccountByName(_ context.Context, account string) (PlayerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.players[account]
	if !ok {
		return PlayerRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) SavePlayer(_ context.Context, rec PlayerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for account, existing := range m.players {
		if existing.Character == rec.Character {
			rec.Account = existing.Account
			rec.PasswordHash = existing.PasswordHash
			rec.Online = existing.Online
			m.players[account] = rec
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) TopRanking(_ context.Context, limit int) ([]protocol.RankingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]protocol.RankingEntry, 0, len(m.players))
	for _, rec := range m.players {
		entries = append(entries, protocol.RankingEntry{
			Character: rec.Character,
			Level:     rec.Level,
			Gold:      rec.Gold,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Level != entries[j].Level {
			return entries[i].Level > entries[j].Level
		}
		if entries[i].Gold != entries[j].Gold {
			return entries[i].Gold > entries[j].Gold
		}
		return entries[i].Character < entries[j].Character
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *Memory) ActiveListings(_ context.Context, character string) ([]game.MarketItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]game.MarketItem, 0)
	for _, l := range m.listings {
		if !l.Sold && l.Seller != character {
			items = append(items, *l)
		}
	}
	sortByMID(items)
	return items, nil
}

func (m *Memory) ListingsBySeller(_ context.Context, seller string) ([]game.MarketItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]game.MarketItem, 0)
	for _, l := range m.listings {
		if l.Seller == seller {
			items = append(items, *l)
		}
	}
	sortByMID(items)
	return items, nil
}

func (m *Memory) BuyListing(_ context.Context, mid int64, _ string) (protocol.Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[mid]
	if !ok || l.Sold {
		return protocol.FlagItemAlreadyBought, nil
	}
	l.Sold = true
	return protocol.FlagOk, nil
}

func (m *Memory) RegisterListing(_ context.Context, item *game.MarketItem) (protocol.Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextMID++
	stored := *item
	stored.MID = m.nextMID
	stored.Sold = false
	stored.Origin = nil // client-only field, irrelevant once registered
	m.listings[stored.MID] = &stored
	item.MID = stored.MID
	return protocol.FlagOk, nil
}

func (m *Memory) RemoveListing(_ context.Context, mid int64, seller string) (protocol.Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[mid]
	if !ok || l.Seller != seller || l.Sold {
		return protocol.FlagItemAlreadySold, nil
	}
	delete(m.listings, mid)
	return protocol.FlagOk, nil
}

func (m *Memory) CollectListing(_ context.Context, mid int64, seller string) (protocol.Flag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[mid]
	if !ok || l.Seller != seller || !l.Sold {
		return protocol.FlagItemAlreadyCollected, nil
	}
	delete(m.listings, mid)
	return protocol.FlagOk, nil
}

func (m *Memory) Missions(_ context.Context, character string) ([]protocol.MissionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := m.missions[character]
	out := make([]protocol.MissionRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveMission(_ context.Context, character string, rec protocol.MissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.missions[character]
	if !ok {
		byID = make(map[string]protocol.MissionRecord)
		m.missions[character] = byID
	}
	byID[rec.ID] = rec
	return nil
}

func (m *Memory) AppendSensorReadings(_ context.Context, character string, rs []protocol.SensorReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sensors[character] = append(m.sensors[character], rs...)
	return nil
}

func (m *Memory) MarkOnline(_ context.Context, character string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for account, rec := range m.players {
		if rec.Character == character {
			rec.Online = online
			m.players[account] = rec
			return nil
		}
	}
	return nil // unknown character, nothing to mark
}

func (m *Memory) ResetAllOffline(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for account, rec := range m.players {
		rec.Online = false
		m.players[account] = rec
	}
	return nil
}

func sortByMID(items []game.MarketItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].MID < items[j].MID })
}
