// Package game holds the item and player state model shared by the client
// engine and the server handlers.
package game

// SlotRef addresses an inventory slot as (page, row, col). It is only
// meaningful on the client before a listing is registered, so the item can
// be removed from the right slot on success.
type SlotRef struct {
	Page int `json:"page"`
	Row  int `json:"row"`
	Col  int `json:"col"`
}

// MarketItem is a marketplace listing. MID is assigned by the server exactly
// once at registration and stable afterwards; UID names the item template.
type MarketItem struct {
	MID     int64    `json:"mid,omitempty"`
	UID     string   `json:"uid"`
	Seller  string   `json:"seller"`
	Price   int64    `json:"price"`
	Level   int      `json:"level"`
	Quality int      `json:"quality"`
	Sold    bool     `json:"sold"`
	Origin  *SlotRef `json:"origin,omitempty"`
}

// AsItem strips listing metadata down to the inventory representation.
func (m MarketItem) AsItem() Item {
	return Item{UID: m.UID, Level: m.Level, Quality: m.Quality}
}
