package membership

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/voicehub/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *bool:
			*p = r.vals[i].(bool)
		case *string:
			*p = r.vals[i].(string)
		case *int64:
			*p = r.vals[i].(int64)
		}
	}
	return nil
}

type fakeRows struct {
	ids []int64
	pos int
	err error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.ids) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	*dest[0].(*int64) = r.ids[r.pos-1]
	return nil
}

type fakeDB struct {
	rows     map[string]fakeRow
	members  *fakeRows
	queryErr error
	lastArgs []any
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.lastArgs = args
	return f.rows[sql]
}

func (f *fakeDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	f.lastArgs = args
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.members, nil
}

func TestPostgres_IsMember(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{isMemberSQL: {vals: []any{true}}}}
	p := NewPostgres(db)

	ok, err := p.IsMember(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []any{int64(3), int64(7)}, db.lastArgs)

	db.rows[isMemberSQL] = fakeRow{err: errors.New("conn reset")}
	_, err = p.IsMember(context.Background(), 7, 3)
	assert.Error(t, err)
}

func TestPostgres_IsVoiceChannel(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{channelTypeSQL: {vals: []any{"voice"}}}}
	p := NewPostgres(db)

	ok, err := p.IsVoiceChannel(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)

	db.rows[channelTypeSQL] = fakeRow{vals: []any{"text"}}
	ok, err = p.IsVoiceChannel(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)

	db.rows[channelTypeSQL] = fakeRow{err: pgx.ErrNoRows}
	ok, err = p.IsVoiceChannel(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgres_GetMembers(t *testing.T) {
	db := &fakeDB{members: &fakeRows{ids: []int64{1, 4, 9}}}
	p := NewPostgres(db)

	got, err := p.GetMembers(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{1, 4, 9}, got)

	db.queryErr = errors.New("timeout")
	_, err = p.GetMembers(context.Background(), 2)
	assert.Error(t, err)
}

func TestStatic_GrantRevoke(t *testing.T) {
	s := NewStatic([]domain.ChannelSpec{{ID: 1, Voice: true, Members: []int64{2, 1}}})
	ctx := context.Background()

	members, err := s.GetMembers(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []domain.UserID{1, 2}, members)

	ok, _ := s.IsMember(ctx, 3, 1)
	assert.False(t, ok)
	s.Grant(3, 1)
	ok, _ = s.IsMember(ctx, 3, 1)
	assert.True(t, ok)
	s.Revoke(3, 1)
	ok, _ = s.IsMember(ctx, 3, 1)
	assert.False(t, ok)

	voice, _ := s.IsVoiceChannel(ctx, 1)
	assert.True(t, voice)
	voice, _ = s.IsVoiceChannel(ctx, 5)
	assert.False(t, voice)
}
