// Package store owns durable player, market and session data. Handlers
// consume it through the Store interface; market mutations return a protocol
// flag so business-rule failures (lost races, double collects) stay
// distinguishable from I/O faults, which surface as errors.
package store

import (
	"context"
	"errors"

	"grimhollow/internal/game"
	"grimhollow/internal/protocol"
)

// ErrNotFound is returned by lookups when no record matches.
var ErrNotFound = errors.New("store: not found")

// PlayerRecord is the durable account + character state.
type PlayerRecord struct {
	Account      string
	Character    string
	PasswordHash []byte
	Gold         int64
	Level        int
	Experience   int64
	Online       bool
}

// Store is the transactional interface consumed by the server handlers.
// Market mutations are atomic with respect to the listing lifecycle: a
// listing is active (sold=false), sold awaiting collection (sold=true), or
// gone. BuyListing is the optimistic-concurrency guard against double-buys;
// it must check sold=false and set sold=true in one step.
type Store interface {
	CreateAccount(ctx context.Context, rec PlayerRecord) (protocol.Flag, error)
	AccountByName(ctx context.Context, account string) (PlayerRecord, error)
	SavePlayer(ctx context.Context, rec PlayerRecord) error
	TopRanking(ctx context.Context, limit int) ([]protocol.RankingEntry, error)

	ActiveListings(ctx context.Context, character string) ([]game.MarketItem, error)
	ListingsBySeller(ctx context.Context, seller string) ([]game.MarketItem, error)
	BuyListing(ctx context.Context, mid int64, buyer string) (protocol.Flag, error)
	RegisterListing(ctx context.Context, item *game.MarketItem) (protocol.Flag, error)
	RemoveListing(ctx context.Context, mid int64, seller string) (protocol.Flag, error)
	CollectListing(ctx context.Context, mid int64, seller string) (protocol.Flag, error)

	Missions(ctx context.Context, character string) ([]protocol.MissionRecord, error)
	SaveMission(ctx context.Context, character string, m protocol.MissionRecord) error
	AppendSensorReadings(ctx context.Context, character string, rs []protocol.SensorReading) error

	MarkOnline(ctx context.Context, character string, online bool) error
	ResetAllOffline(ctx context.Context) error
}
