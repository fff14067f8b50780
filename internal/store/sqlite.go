package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"grimhollow/internal/game"
	"grimhollow/internal/protocol"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS players (
	account       TEXT PRIMARY KEY,
	character     TEXT NOT NULL UNIQUE,
	password_hash BLOB NOT NULL,
	gold          INTEGER NOT NULL DEFAULT 0,
	level         INTEGER NOT NULL DEFAULT 1,
	experience    INTEGER NOT NULL DEFAULT 0,
	online        INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS listings (
	mid     INTEGER PRIMARY KEY AUTOINCREMENT,
	uid     TEXT NOT NULL,
	seller  TEXT NOT NULL,
	price   INTEGER NOT NULL,
	level   INTEGER NOT NULL,
	quality INTEGER NOT NULL,
	sold    INTEGER NOT NULL DEFAULT 0,
	buyer   TEXT
);
CREATE TABLE IF NOT EXISTS missions (
	character TEXT NOT NULL,
	id        TEXT NOT NULL,
	progress  INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (character, id)
);
CREATE TABLE IF NOT EXISTS sensor_readings (
	character TEXT NOT NULL,
	name      TEXT NOT NULL,
	value     REAL NOT NULL,
	at        INTEGER NOT NULL
);
`

// SQLite is a Store backed by a local SQLite database. The sold-state
// compare-and-set rides on conditional UPDATE/DELETE statements checked via
// RowsAffected, so two concurrent buyers of the same mid resolve to exactly
// one winner inside the database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed initializes) the database at dsn.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite handles one writer at a time; a larger pool only produces
	// SQLITE_BUSY errors under contention.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateAccount(ctx context.Context, rec PlayerRecord) (protocol.Flag, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM players WHERE account = ?`, rec.Account).Scan(&n); err != nil {
		return protocol.FlagGeneralError, err
	}
	if n > 0 {
		return protocol.FlagAccountTaken, nil
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM players WHERE character = ?`, rec.Character).Scan(&n); err != nil {
		return protocol.FlagGeneralError, err
	}
	if n > 0 {
		return protocol.FlagCharacterNameTaken, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO players (account, character, password_hash, gold, level, experience, online)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		rec.Account, rec.Character, rec.PasswordHash, rec.Gold, rec.Level, rec.Experience)
	if err != nil {
		return protocol.FlagGeneralError, err
	}
	return protocol.FlagOk, nil
}

func (s *SQLite) AccountByName(ctx context.Context, account string) (PlayerRecord, error) {
	var rec PlayerRecord
	var online int
	err := s.db.QueryRowContext(ctx,
		`SELECT account, character, password_hash, gold, level, experience, online
		 FROM players WHERE account = ?`, account).
		Scan(&rec.Account, &rec.Character, &rec.PasswordHash, &rec.Gold, &rec.Level, &rec.Experience, &online)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerRecord{}, ErrNotFound
	}
	if err != nil {
		return PlayerRecord{}, err
	}
	rec.Online = online != 0
	return rec, nil
}

func (s *SQLite) SavePlayer(ctx context.Context, rec PlayerRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET gold = ?, level = ?, experience = ? WHERE character = ?`,
		rec.Gold, rec.Level, rec.Experience, rec.Character)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) TopRanking(ctx context.Context, limit int) ([]protocol.RankingEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT character, level, gold FROM players
		 ORDER BY level DESC, gold DESC, character ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]protocol.RankingEntry, 0, limit)
	for rows.Next() {
		var e protocol.RankingEntry
		if err := rows.Scan(&e.Character, &e.Level, &e.Gold); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLite) ActiveListings(ctx context.Context, character string) ([]game.MarketItem, error) {
	return s.queryListings(ctx,
		`SELECT mid, uid, seller, price, level, quality, sold FROM listings
		 WHERE sold = 0 AND seller != ? ORDER BY mid`, character)
}

func (s *SQLite) ListingsBySeller(ctx context.Context, seller string) ([]game.MarketItem, error) {
	return s.queryListings(ctx,
		`SELECT mid, uid, seller, price, level, quality, sold FROM listings
		 WHERE seller = ? ORDER BY mid`, seller)
}

func (s *SQLite) queryListings(ctx context.Context, query string, arg any) ([]game.MarketItem, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]game.MarketItem, 0)
	for rows.Next() {
		var it game.MarketItem
		var sold int
		if err := rows.Scan(&it.MID, &it.UID, &it.Seller, &it.Price, &it.Level, &it.Quality, &sold); err != nil {
			return nil, err
		}
		it.Sold = sold != 0
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLite) BuyListing(ctx context.Context, mid int64, buyer string) (protocol.Flag, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET sold = 1, buyer = ? WHERE mid = ? AND sold = 0`, buyer, mid)
	if err != nil {
		return protocol.FlagGeneralError, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return protocol.FlagGeneralError, err
	}
	if n == 0 {
		return protocol.FlagItemAlreadyBought, nil
	}
	return protocol.FlagOk, nil
}

func (s *SQLite) RegisterListing(ctx context.Context, item *game.MarketItem) (protocol.Flag, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (uid, seller, price, level, quality, sold) VALUES (?, ?, ?, ?, ?, 0)`,
		item.UID, item.Seller, item.Price, item.Level, item.Quality)
	if err != nil {
		return protocol.FlagGeneralError, err
	}
	mid, err := res.LastInsertId()
	if err != nil {
		return protocol.FlagGeneralError, err
	}
	item.MID = mid
	item.Sold = false
	item.Origin = nil
	return protocol.FlagOk, nil
}

func (s *SQLite) RemoveListing(ctx context.Context, mid int64, seller string) (protocol.Flag, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM listings WHERE mid = ? AND seller = ? AND sold = 0`, mid, seller)
	if err != nil {
		return protocol.FlagGeneralError, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return protocol.FlagGeneralError, err
	}
	if n == 0 {
		return protocol.FlagItemAlreadySold, nil
	}
	return protocol.FlagOk, nil
}

func (s *SQLite) CollectListing(ctx context.Context, mid int64, seller string) (protocol.Flag, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM listings WHERE mid = ? AND seller = ? AND sold = 1`, mid, seller)
	if err != nil {
		return protocol.FlagGeneralError, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return protocol.FlagGeneralError, err
	}
	if n == 0 {
		return protocol.FlagItemAlreadyCollected, nil
	}
	return protocol.FlagOk, nil
}

func (s *SQLite) Missions(ctx context.Context, character string) ([]protocol.MissionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, progress, completed FROM missions WHERE character = ? ORDER BY id`, character)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]protocol.MissionRecord, 0)
	for rows.Next() {
		var rec protocol.MissionRecord
		var completed int
		if err := rows.Scan(&rec.ID, &rec.Progress, &completed); err != nil {
			return nil, err
		}
		rec.Completed = completed != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveMission(ctx context.Context, character string, rec protocol.MissionRecord) error {
	completed := 0
	if rec.Completed {
		completed = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO missions (character, id, progress, completed) VALUES (?, ?, ?, ?)
		 ON CONFLICT(character, id) DO UPDATE SET progress = excluded.progress, completed = excluded.completed`,
		character, rec.ID, rec.Progress, completed)
	return err
}

func (s *SQLite) AppendSensorReadings(ctx context.Context, character string, rs []protocol.SensorReading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, r := range rs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sensor_readings (character, name, value, at) VALUES (?, ?, ?, ?)`,
			character, r.Name, r.Value, r.At); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) MarkOnline(ctx context.Context, character string, online bool) error {
	v := 0
	if online {
		v = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET online = ? WHERE character = ?`, v, character)
	return err
}

func (s *SQLite) ResetAllOffline(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE players SET online = 0`)
	return err
}
