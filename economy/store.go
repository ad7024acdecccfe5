// Package economy is the ledger store access layer: users, channels, shop
// items, redemptions, the append-only point ledger, and the dedup journal.
// Every balance-affecting operation commits its ledger row in the same
// transaction as the balance mutation, so a debit can never land without its
// audit trail.
package economy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
)

const pgUniqueViolation = "23505"

// Store wraps the database with the economy operations. The injected clock
// makes gap-based accrual and journal pruning testable.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewStore creates a Store. A nil clock defaults to the real one.
func NewStore(db *sql.DB, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var displayName, twitchID sql.NullString
	var lastPresence, createdAt, updatedAt sql.NullTime
	err := row.Scan(&u.ID, &twitchID, &displayName, &u.Points, &u.XP, &u.Level, &lastPresence, &createdAt, &updatedAt)
	if err != nil {
		return User{}, err
	}
	u.TwitchID = twitchID.String
	u.DisplayName = displayName.String
	u.LastPresenceAt = lastPresence.Time
	u.CreatedAt = createdAt.Time
	u.UpdatedAt = updatedAt.Time
	return u, nil
}

const userColumns = `id, twitch_id, display_name, points, xp, level, last_presence_at, created_at, updated_at`

// GetUser fetches a user by twitch id. Returns ErrUserNotFound when absent.
func (s *Store) GetUser(ctx context.Context, twitchID string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE twitch_id=$1`, twitchID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateUser inserts a fresh user (points 0, xp 0, level 1) with the presence
// anchor set to now. Safe under races: a concurrent insert for the same
// twitch id resolves to the existing row.
func (s *Store) CreateUser(ctx context.Context, twitchID, displayName string) (User, error) {
	now := s.clock.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (twitch_id, display_name, points, xp, level, last_presence_at, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 1, $3, $3, $3)
		ON CONFLICT (twitch_id) DO NOTHING
		RETURNING `+userColumns, twitchID, displayName, now)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		// Lost the insert race; the existing row wins.
		return s.GetUser(ctx, twitchID)
	}
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// UpdateDisplayName records the last-seen display name without touching the
// presence anchor.
func (s *Store) UpdateDisplayName(ctx context.Context, twitchID, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET display_name=$1, updated_at=$2 WHERE twitch_id=$3`,
		displayName, s.clock.Now().UTC(), twitchID)
	if err != nil {
		return fmt.Errorf("update display name: %w", err)
	}
	return nil
}

// AwardPresence pays out lurk points and XP for one reconciliation pass. The
// WHERE clause on the previously observed presence anchor makes the
// read-modify-write optimistic: of two concurrent passes that read the same
// anchor, only one row update succeeds, so a gap is never paid twice. The
// returned bool reports whether this pass won the update.
func (s *Store) AwardPresence(ctx context.Context, twitchID, displayName string, points, xp, level int, observedPresenceAt time.Time) (User, bool, error) {
	now := s.clock.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, false, fmt.Errorf("begin award tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE users
		SET points = points + $1, xp = xp + $2, level = $3,
		    display_name = $4, last_presence_at = $5, updated_at = $5
		WHERE twitch_id = $6 AND last_presence_at = $7
		RETURNING `+userColumns,
		points, xp, level, displayName, now, twitchID, observedPresenceAt.UTC())
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		// Another pass advanced the anchor first; skip without error.
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("award presence: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO point_ledger (user_id, points, type, reason) VALUES ($1, $2, $3, $4)`,
		u.ID, points, LedgerTypeEarn, "Lurk accrual"); err != nil {
		return User{}, false, fmt.Errorf("insert earn ledger row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return User{}, false, fmt.Errorf("commit award tx: %w", err)
	}
	return u, true, nil
}

// ResetPresence advances the presence anchor without paying anything, used
// when the observed gap exceeds the accrual window (bot downtime). The same
// optimistic guard applies. A zero observedPresenceAt matches rows whose
// anchor is NULL, so users inserted outside CreateUser still get a session
// started; plain equality never matches NULL.
func (s *Store) ResetPresence(ctx context.Context, twitchID, displayName string, observedPresenceAt time.Time) (User, bool, error) {
	now := s.clock.Now().UTC()
	var anchor any = observedPresenceAt.UTC()
	if observedPresenceAt.IsZero() {
		anchor = nil
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET display_name = $1, last_presence_at = $2, updated_at = $2
		WHERE twitch_id = $3 AND last_presence_at IS NOT DISTINCT FROM $4
		RETURNING `+userColumns,
		displayName, now, twitchID, anchor)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("reset presence: %w", err)
	}
	return u, true, nil
}

// UpsertChannel ensures the channel row exists and carries the current name.
func (s *Store) UpsertChannel(ctx context.Context, twitchID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (twitch_id, name, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (twitch_id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()`,
		twitchID, name)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

// CountUsers returns the total number of tracked users.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// CountChannels returns the total number of tracked channels.
func (s *Store) CountChannels(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count channels: %w", err)
	}
	return n, nil
}

func (s *Store) topUsers(ctx context.Context, orderBy string, limit int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY `+orderBy+` DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("top users by %s: %w", orderBy, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// TopUsersByPoints returns the highest balances first (leaderboard view).
func (s *Store) TopUsersByPoints(ctx context.Context, limit int) ([]User, error) {
	return s.topUsers(ctx, "points", limit)
}

// TopUsersByXP returns the highest lifetime XP first (leaderboard view).
func (s *Store) TopUsersByXP(ctx context.Context, limit int) ([]User, error) {
	return s.topUsers(ctx, "xp", limit)
}

// SpendPoints debits a balance and appends the matching SPEND ledger row in
// one transaction. The conditional UPDATE is the overdraw guard: under
// concurrent spends only the updates that keep points >= 0 succeed.
func (s *Store) SpendPoints(ctx context.Context, twitchID string, cost int, reason string) (int, error) {
	if cost <= 0 {
		return 0, fmt.Errorf("spend cost must be positive, got %d", cost)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin spend tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID int64
	var balance int
	err = tx.QueryRowContext(ctx, `
		UPDATE users SET points = points - $1, updated_at = NOW()
		WHERE twitch_id = $2 AND points >= $1
		RETURNING id, points`, cost, twitchID).Scan(&userID, &balance)
	if err == sql.ErrNoRows {
		return 0, ErrInsufficientPoints
	}
	if err != nil {
		return 0, fmt.Errorf("debit points: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO point_ledger (user_id, points, type, reason) VALUES ($1, $2, $3, $4)`,
		userID, -cost, LedgerTypeSpend, reason); err != nil {
		return 0, fmt.Errorf("insert spend ledger row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit spend tx: %w", err)
	}
	return balance, nil
}

// PurchaseItem resolves an enabled item by case-insensitive exact name and,
// in one transaction, debits its cost, records the redemption, and appends
// the SPEND ledger row. Returns the item and the new balance.
func (s *Store) PurchaseItem(ctx context.Context, twitchID, itemName string) (ShopItem, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ShopItem{}, 0, fmt.Errorf("begin purchase tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var item ShopItem
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, cost, COALESCE(description, ''), is_enabled
		FROM shop_items WHERE LOWER(name) = LOWER($1) AND is_enabled
		LIMIT 1`, itemName).Scan(&item.ID, &item.Name, &item.Cost, &item.Description, &item.Enabled)
	if err == sql.ErrNoRows {
		return ShopItem{}, 0, ErrItemNotFound
	}
	if err != nil {
		return ShopItem{}, 0, fmt.Errorf("lookup item: %w", err)
	}

	var userID int64
	var balance int
	err = tx.QueryRowContext(ctx, `
		UPDATE users SET points = points - $1, updated_at = NOW()
		WHERE twitch_id = $2 AND points >= $1
		RETURNING id, points`, item.Cost, twitchID).Scan(&userID, &balance)
	if err == sql.ErrNoRows {
		return item, 0, ErrInsufficientPoints
	}
	if err != nil {
		return ShopItem{}, 0, fmt.Errorf("debit points: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO redemptions (user_id, item_id, cost) VALUES ($1, $2, $3)`,
		userID, item.ID, item.Cost); err != nil {
		return ShopItem{}, 0, fmt.Errorf("insert redemption: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO point_ledger (user_id, points, type, reason) VALUES ($1, $2, $3, $4)`,
		userID, -item.Cost, LedgerTypeSpend, "Bought "+item.Name); err != nil {
		return ShopItem{}, 0, fmt.Errorf("insert spend ledger row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return ShopItem{}, 0, fmt.Errorf("commit purchase tx: %w", err)
	}
	return item, balance, nil
}

// ListEnabledItems returns enabled shop items sorted by ascending cost.
func (s *Store) ListEnabledItems(ctx context.Context) ([]ShopItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cost, COALESCE(description, ''), is_enabled
		FROM shop_items WHERE is_enabled ORDER BY cost ASC`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []ShopItem
	for rows.Next() {
		var it ShopItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Cost, &it.Description, &it.Enabled); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListAllItems returns every shop item, disabled ones included (admin view).
func (s *Store) ListAllItems(ctx context.Context) ([]ShopItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cost, COALESCE(description, ''), is_enabled
		FROM shop_items ORDER BY cost ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all items: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []ShopItem
	for rows.Next() {
		var it ShopItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Cost, &it.Description, &it.Enabled); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CreateShopItem inserts a new purchasable entry.
func (s *Store) CreateShopItem(ctx context.Context, name string, cost int, description string) (ShopItem, error) {
	if cost <= 0 {
		return ShopItem{}, fmt.Errorf("item cost must be positive, got %d", cost)
	}
	var it ShopItem
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO shop_items (name, cost, description) VALUES ($1, $2, $3)
		RETURNING id, name, cost, COALESCE(description, ''), is_enabled`,
		name, cost, description).Scan(&it.ID, &it.Name, &it.Cost, &it.Description, &it.Enabled)
	if err != nil {
		return ShopItem{}, fmt.Errorf("create item: %w", err)
	}
	return it, nil
}

// SetShopItemEnabled flips an item's visibility for listing and purchase.
func (s *Store) SetShopItemEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE shop_items SET is_enabled=$1 WHERE id=$2`, enabled, id)
	if err != nil {
		return fmt.Errorf("set item enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// SeedDefaultShopItems inserts the starter catalog once, so the first !shop
// of a fresh deployment is not empty. No-op when any item already exists.
func (s *Store) SeedDefaultShopItems(ctx context.Context) error {
	defaults := []struct {
		name        string
		cost        int
		description string
	}{
		{"Hydrate", 100, "Remind streamer to drink water"},
		{"Posture Check", 200, "Sit up straight!"},
		{"Shoutout", 500, "Get a shoutout"},
		{"VIP (24h)", 5000, "VIP status for a day"},
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM shop_items`).Scan(&n); err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	if n > 0 {
		return nil
	}
	for _, d := range defaults {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shop_items (name, cost, description) VALUES ($1, $2, $3)`,
			d.name, d.cost, d.description); err != nil {
			return fmt.Errorf("seed item %q: %w", d.name, err)
		}
	}
	return tx.Commit()
}

// RecordProcessedCommand inserts a delivery id into the dedup journal. The
// primary key is the concurrency gate: of two simultaneous deliveries with
// the same id, exactly one insert succeeds and the other gets
// ErrDuplicateCommand. Never preceded by an existence check.
func (s *Store) RecordProcessedCommand(ctx context.Context, deliveryID, command, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_commands (id, command, user_id, created_at) VALUES ($1, $2, $3, $4)`,
		deliveryID, command, userID, s.clock.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCommand
		}
		return fmt.Errorf("record processed command: %w", err)
	}
	return nil
}

// PruneProcessedCommands deletes journal rows older than the given age.
// Best-effort: the journal only needs to cover the redelivery window.
func (s *Store) PruneProcessedCommands(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.clock.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_commands WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune processed commands: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
