package protocol

import "grimhollow/internal/game"

// SignupPayload creates an account and its first character.
type SignupPayload struct {
	Account   string `json:"account"`
	Password  string `json:"password"`
	Character string `json:"character"`
}

// LoginPayload authenticates an existing account.
type LoginPayload struct {
	Account   string `json:"account"`
	Password  string `json:"password"`
	Character string `json:"character"`
}

// LoginResult is the payload of a successful login response.
type LoginResult struct {
	Character string `json:"character"`
	Token     string `json:"token"`
	Gold      int64  `json:"gold"`
	Level     int    `json:"level"`
}

// SavePayload persists the mutable part of a player record.
type SavePayload struct {
	Character  string `json:"character"`
	Gold       int64  `json:"gold"`
	Level      int    `json:"level"`
	Experience int64  `json:"experience"`
}

// RankingPayload requests the top players ladder.
type RankingPayload struct {
	Character string `json:"character"`
	Limit     int    `json:"limit"`
}

// RankingEntry is one ladder row.
type RankingEntry struct {
	Character string `json:"character"`
	Level     int    `json:"level"`
	Gold      int64  `json:"gold"`
}

// RankingResult is the payload of a ranking response.
type RankingResult struct {
	Entries []RankingEntry `json:"entries"`
}

// MarketPayload carries a market action and its subject item. Requests fill
// Item; list responses fill Items.
type MarketPayload struct {
	Action    MarketAction      `json:"action"`
	Character string            `json:"character"`
	Item      *game.MarketItem  `json:"item,omitempty"`
	Items     []game.MarketItem `json:"items,omitempty"`
}

// MarketEvent is broadcast on the market feed after a confirmed transaction.
type MarketEvent struct {
	Action MarketAction    `json:"action"`
	Item   game.MarketItem `json:"item"`
	At     int64           `json:"at"`
}

// AckPayload is the client heartbeat.
type AckPayload struct {
	Character string `json:"character"`
	SentAt    int64  `json:"sentAt,omitempty"`
}

// AckResult echoes the server clock so clients can estimate drift.
type AckResult struct {
	ServerTime int64 `json:"serverTime"`
}

// LogoffPayload announces an orderly disconnect.
type LogoffPayload struct {
	Character string `json:"character"`
}

// MissionRecord is per-character mission progress.
type MissionRecord struct {
	ID        string `json:"id"`
	Progress  int    `json:"progress"`
	Completed bool   `json:"completed"`
}

// MissionPayload carries a mission action; SaveMission fills Mission,
// retrieve responses fill Missions.
type MissionPayload struct {
	Action    MissionAction   `json:"action"`
	Character string          `json:"character"`
	Mission   *MissionRecord  `json:"mission,omitempty"`
	Missions  []MissionRecord `json:"missions,omitempty"`
}

// SensorReading is one client telemetry sample.
type SensorReading struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	At    int64   `json:"at"`
}

// SensorPayload batches telemetry readings.
type SensorPayload struct {
	Character string          `json:"character"`
	Readings  []SensorReading `json:"readings"`
}
