package game

import "errors"

// Inventory page geometry. Slots are addressed page-major so SlotRef order
// matches the on-screen grid.
const (
	PageRows     = 4
	PageCols     = 6
	SlotsPerPage = PageRows * PageCols
)

var (
	ErrInventoryFull = errors.New("inventory full")
	ErrEmptySlot     = errors.New("slot is empty")
)

// Item is a concrete item instance held in an inventory slot.
type Item struct {
	UID     string `json:"uid"`
	Level   int    `json:"level"`
	Quality int    `json:"quality"`
}

// Inventory is a fixed-capacity paged item grid. It is not safe for
// concurrent use; callers serialize access (the market engine holds its own
// lock).
type Inventory struct {
	Pages int
	slots map[SlotRef]Item
}

// NewInventory creates an empty inventory with the given number of pages.
func NewInventory(pages int) *Inventory {
	if pages < 1 {
		pages = 1
	}
	return &Inventory{Pages: pages, slots: make(map[SlotRef]Item)}
}

// Capacity returns the total slot count.
func (inv *Inventory) Capacity() int { return inv.Pages * SlotsPerPage }

// Count returns the number of occupied slots.
func (inv *Inventory) Count() int { return len(inv.slots) }

// Full reports whether no free slot remains.
func (inv *Inventory) Full() bool { return len(inv.slots) >= inv.Capacity() }

// At returns the item stored at ref.
func (inv *Inventory) At(ref SlotRef) (Item, bool) {
	it, ok := inv.slots[ref]
	return it, ok
}

// Add places the item in the first free slot and returns its position.
func (inv *Inventory) Add(it Item) (SlotRef, error) {
	if inv.Full() {
		return SlotRef{}, ErrInventoryFull
	}
	for page := 0; page < inv.Pages; page++ {
		for row := 0; row < PageRows; row++ {
			for col := 0; col < PageCols; col++ {
				ref := SlotRef{Page: page, Row: row, Col: col}
				if _, occupied := inv.slots[ref]; !occupied {
					inv.slots[ref] = it
					return ref, nil
				}
			}
		}
	}
	return SlotRef{}, ErrInventoryFull
}

// Remove clears the slot at ref and returns the item that was there.
func (inv *Inventory) Remove(ref SlotRef) (Item, error) {
	it, ok := inv.slots[ref]
	if !ok {
		return Item{}, ErrEmptySlot
	}
	delete(inv.slots, ref)
	return it, nil
}

// PlayerState is the client-side view of the local player. The market engine
// mutates it only after a confirmed server response.
type PlayerState struct {
	Character string
	Gold      int64
	Level     int
	Inventory *Inventory
}
