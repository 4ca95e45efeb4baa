package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voicehub/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	isMemberSQL = `
SELECT EXISTS (
	SELECT 1
	FROM channels c
	JOIN server_members sm ON sm.server_id = c.server_id
	WHERE c.id = $1 AND sm.user_id = $2
)`

	membersSQL = `
SELECT sm.user_id
FROM channels c
JOIN server_members sm ON sm.server_id = c.server_id
WHERE c.id = $1
ORDER BY sm.user_id`

	channelTypeSQL = `SELECT type FROM channels WHERE id = $1`
)

// querier is the part of pgxpool.Pool the service uses.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres answers membership questions from the servers/channels schema.
type Postgres struct {
	db querier
}

func NewPostgres(db querier) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) IsMember(ctx context.Context, user domain.UserID, channel domain.ChannelID) (bool, error) {
	var ok bool
	if err := p.db.QueryRow(ctx, isMemberSQL, int64(channel), int64(user)).Scan(&ok); err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return ok, nil
}

func (p *Postgres) GetMembers(ctx context.Context, channel domain.ChannelID) ([]domain.UserID, error) {
	rows, err := p.db.Query(ctx, membersSQL, int64(channel))
	if err != nil {
		return nil, fmt.Errorf("get members: %w", err)
	}
	defer rows.Close()

	var out []domain.UserID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, domain.UserID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get members: %w", err)
	}
	return out, nil
}

// IsVoiceChannel reports false for unknown channels.
func (p *Postgres) IsVoiceChannel(ctx context.Context, channel domain.ChannelID) (bool, error) {
	var typ string
	err := p.db.QueryRow(ctx, channelTypeSQL, int64(channel)).Scan(&typ)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("channel type: %w", err)
	}
	return typ == "voice", nil
}

// Connect creates a pool and pings it.
func Connect(ctx context.Context, dsn string, minConns, maxConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if minConns > 0 {
		poolCfg.MinConns = int32(minConns)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Str("module", "adapters.membership").Int32("max_conns", poolCfg.MaxConns).Msg("postgres pool ready")
	return pool, nil
}
