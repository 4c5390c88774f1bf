package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/config"
)

// PostgresRepo stores player records in the players table. Progress maps
// live in JSONB columns so new quest keys never need a migration.
type PostgresRepo struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewPostgresRepo connects, pings, and applies pending migrations.
func NewPostgresRepo(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*PostgresRepo, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.MaxIdleConns)
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRepo{pool: pool, log: log}, nil
}

func (r *PostgresRepo) Close() { r.pool.Close() }

const playerColumns = `id, name, password_hash, race, class, level,
	hp, max_hp, mana, max_mana,
	str, dex, con, intel, wis, cha,
	xp_total, gold, room_id, is_staff, ansi,
	quest_progress, completed_quests, achievement_count, unlocked,
	active_title, visited_rooms, inventory, equipment,
	created_at, last_seen`

func (r *PostgresRepo) FindByName(ctx context.Context, name string) (*Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE lower(name) = lower($1)`, name)
	return scanRecord(row)
}

func (r *PostgresRepo) FindByID(ctx context.Context, id int64) (*Record, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	return scanRecord(row)
}

func (r *PostgresRepo) Create(ctx context.Context, rec *Record) (*Record, error) {
	stored := rec.Clone()
	qp, cq, ac, un, vr, inv, eq, err := marshalProgress(stored)
	if err != nil {
		return nil, err
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO players (
			name, password_hash, race, class, level,
			hp, max_hp, mana, max_mana,
			str, dex, con, intel, wis, cha,
			xp_total, gold, room_id, is_staff, ansi,
			quest_progress, completed_quests, achievement_count, unlocked,
			active_title, visited_rooms, inventory, equipment
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,
			$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28
		) RETURNING id, created_at, last_seen`,
		stored.Name, stored.PasswordHash, stored.Race, stored.Class, stored.Level,
		stored.HP, stored.MaxHP, stored.Mana, stored.MaxMana,
		stored.Str, stored.Dex, stored.Con, stored.Int, stored.Wis, stored.Cha,
		stored.XPTotal, stored.Gold, stored.RoomID, stored.IsStaff, stored.Ansi,
		qp, cq, ac, un, stored.ActiveTitle, vr, inv, eq,
	).Scan(&stored.ID, &stored.CreatedAt, &stored.LastSeen)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("create player %s: %w", rec.Name, err)
	}
	return stored, nil
}

// Save writes the mutable fields back. Name and password hash are set
// once at create time and never updated here, so records snapshotted
// from live play may leave them blank.
func (r *PostgresRepo) Save(ctx context.Context, rec *Record) error {
	qp, cq, ac, un, vr, inv, eq, err := marshalProgress(rec)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE players SET
			race = $2, class = $3, level = $4,
			hp = $5, max_hp = $6, mana = $7, max_mana = $8,
			str = $9, dex = $10, con = $11, intel = $12, wis = $13, cha = $14,
			xp_total = $15, gold = $16, room_id = $17, is_staff = $18, ansi = $19,
			quest_progress = $20, completed_quests = $21, achievement_count = $22,
			unlocked = $23, active_title = $24, visited_rooms = $25,
			inventory = $26, equipment = $27,
			last_seen = NOW()
		WHERE id = $1`,
		rec.ID,
		rec.Race, rec.Class, rec.Level,
		rec.HP, rec.MaxHP, rec.Mana, rec.MaxMana,
		rec.Str, rec.Dex, rec.Con, rec.Int, rec.Wis, rec.Cha,
		rec.XPTotal, rec.Gold, rec.RoomID, rec.IsStaff, rec.Ansi,
		qp, cq, ac, un, rec.ActiveTitle, vr, inv, eq,
	)
	if err != nil {
		return fmt.Errorf("save player %d: %w", rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec                        Record
		qp, cq, ac, un, vr, iv, eq []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Name, &rec.PasswordHash, &rec.Race, &rec.Class, &rec.Level,
		&rec.HP, &rec.MaxHP, &rec.Mana, &rec.MaxMana,
		&rec.Str, &rec.Dex, &rec.Con, &rec.Int, &rec.Wis, &rec.Cha,
		&rec.XPTotal, &rec.Gold, &rec.RoomID, &rec.IsStaff, &rec.Ansi,
		&qp, &cq, &ac, &un, &rec.ActiveTitle, &vr, &iv, &eq,
		&rec.CreatedAt, &rec.LastSeen,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan player: %w", err)
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{qp, &rec.QuestProgress},
		{cq, &rec.CompletedQuests},
		{ac, &rec.AchievementCount},
		{un, &rec.Unlocked},
		{vr, &rec.VisitedRooms},
		{iv, &rec.Inventory},
		{eq, &rec.Equipment},
	} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("decode player %d progress: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func marshalProgress(rec *Record) (qp, cq, ac, un, vr, inv, eq []byte, err error) {
	enc := func(v any) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = json.Marshal(v)
		return b
	}
	qp = enc(orEmptyIntMap(rec.QuestProgress))
	cq = enc(orEmptySlice(rec.CompletedQuests))
	ac = enc(orEmptyIntMap(rec.AchievementCount))
	un = enc(orEmptySlice(rec.Unlocked))
	vr = enc(orEmptySlice(rec.VisitedRooms))
	inv = enc(orEmptySlice(rec.Inventory))
	eq = enc(orEmptyStrMap(rec.Equipment))
	if err != nil {
		err = fmt.Errorf("encode player %d progress: %w", rec.ID, err)
	}
	return
}

func orEmptyIntMap(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func orEmptyStrMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
