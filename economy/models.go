package economy

import "time"

// User is one tracked viewer. Points are the spendable balance, XP only ever
// grows, and Level is the cached output of the leveling curve for the current
// XP total. LastPresenceAt anchors the lurk gap computation and is advanced
// only when a pass awards time or resets a stale session; UpdatedAt is a plain
// modification timestamp.
type User struct {
	ID             int64
	TwitchID       string
	DisplayName    string
	Points         int
	XP             int
	Level          int
	LastPresenceAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Channel is a tracked broadcast channel, created on the first successful
// roster fetch and never deleted.
type Channel struct {
	ID        int64
	TwitchID  string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ShopItem is a purchasable entry. Name doubles as the case-insensitive
// lookup key for !buy. Disabled items are invisible to listing and purchase.
type ShopItem struct {
	ID          int64
	Name        string
	Cost        int
	Description string
	Enabled     bool
}

// LedgerType tags point_ledger rows.
const (
	LedgerTypeSpend = "SPEND"
	LedgerTypeEarn  = "EARN"
)
