package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/meeting-sync/internal/model"
)

// Role codes as stored in tb_meeting_participant.role_no.
const (
	roleCodeOwner   = "C001"
	roleCodeInvitee = "C002"
)

func roleCode(role model.Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if role == model.RoleOwner {
		return roleCodeOwner, nil
	}
	return roleCodeInvitee, nil
}

func roleFromCode(code string) model.Role {
	switch strings.TrimSpace(code) {
	case roleCodeOwner:
		return model.RoleOwner
	case roleCodeInvitee:
		return model.RoleInvitee
	}
	return model.Role(code)
}

// ParticipantRepo provides data access to the tb_meeting_participant table.
// A participant row is the only thing that grants a user access to a room.
type ParticipantRepo struct {
	db *sql.DB
}

// NewParticipantRepo returns a new ParticipantRepo bound to the given database.
func NewParticipantRepo(db *sql.DB) *ParticipantRepo { return &ParticipantRepo{db: db} }

// InsertTx adds one row per user with the given role in a single statement.
// Passing an empty slice has no effect and returns nil.
func (r *ParticipantRepo) InsertTx(ctx context.Context, q Querier, roomNo uint64, role model.Role, userIDs []uint64) error {
	if len(userIDs) == 0 {
		return nil
	}
	code, err := roleCode(role)
	if err != nil {
		return err
	}
	query := `INSERT INTO tb_meeting_participant (room_no, user_no, role_no) VALUES `
	args := make([]interface{}, 0, len(userIDs)*3)
	for i, uid := range userIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, roomNo, uid, code)
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

// UserIDsTx returns the user ids of every participant of a room, owner included.
func (r *ParticipantRepo) UserIDsTx(ctx context.Context, q Querier, roomNo uint64) ([]uint64, error) {
	return queryUserIDs(ctx, q,
		`SELECT user_no FROM tb_meeting_participant WHERE room_no = ? ORDER BY user_no`, roomNo)
}

// DeleteUsersTx removes the listed users from a room.  The OWNER row is
// never matched so a roster update cannot drop the owner.
func (r *ParticipantRepo) DeleteUsersTx(ctx context.Context, q Querier, roomNo uint64, userIDs []uint64) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM tb_meeting_participant WHERE room_no = ? AND role_no <> ? AND user_no IN (?)`,
		roomNo, roleCodeOwner, userIDs)
	if err != nil {
		return 0, err
	}
	return execAffected(ctx, q, query, args...)
}

// DeleteAllTx removes every participant row of a room, owner included.
func (r *ParticipantRepo) DeleteAllTx(ctx context.Context, q Querier, roomNo uint64) (int64, error) {
	return execAffected(ctx, q, `DELETE FROM tb_meeting_participant WHERE room_no = ?`, roomNo)
}

// FindRole returns the role of a user in a room or ErrNotFound.
func (r *ParticipantRepo) FindRole(ctx context.Context, roomNo, userID uint64) (model.Role, error) {
	var code string
	err := r.db.QueryRowContext(ctx,
		`SELECT role_no FROM tb_meeting_participant WHERE room_no = ? AND user_no = ?`,
		roomNo, userID).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return roleFromCode(code), nil
}

// FindOwner returns the OWNER of a room.
func (r *ParticipantRepo) FindOwner(ctx context.Context, roomNo uint64) (uint64, error) {
	return r.FindOwnerTx(ctx, r.db, roomNo)
}

// FindOwnerTx is FindOwner within the caller's scope.
func (r *ParticipantRepo) FindOwnerTx(ctx context.Context, q Querier, roomNo uint64) (uint64, error) {
	var owner uint64
	err := q.QueryRowContext(ctx,
		`SELECT user_no FROM tb_meeting_participant WHERE room_no = ? AND role_no = ? LIMIT 1`,
		roomNo, roleCodeOwner).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return owner, nil
}

// ListWithNames returns the participants of a room with member names,
// owner first and then by user number.
func (r *ParticipantRepo) ListWithNames(ctx context.Context, roomNo uint64) ([]model.ParticipantDetail, error) {
	const q = `SELECT p.user_no, COALESCE(m.name, ''), p.role_no, p.join_time, p.out_time
               FROM tb_meeting_participant p
               LEFT JOIN tb_member m ON m.user_no = p.user_no
               WHERE p.room_no = ?
               ORDER BY p.role_no, p.user_no`
	rows, err := r.db.QueryContext(ctx, q, roomNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ParticipantDetail, 0)
	for rows.Next() {
		var (
			d        model.ParticipantDetail
			code     string
			joinedAt sql.NullTime
			leftAt   sql.NullTime
		)
		if err := rows.Scan(&d.UserNo, &d.Name, &code, &joinedAt, &leftAt); err != nil {
			return nil, err
		}
		d.Role = roleFromCode(code)
		if joinedAt.Valid {
			t := joinedAt.Time.UTC()
			d.JoinedAt = &t
		}
		if leftAt.Valid {
			t := leftAt.Time.UTC()
			d.LeftAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpdateJoinTimeTx opens a new attendance session: join_time is overwritten
// and out_time cleared.  It returns the number of rows matched, which is
// zero when the user is not a participant of the room.
func (r *ParticipantRepo) UpdateJoinTimeTx(ctx context.Context, q Querier, roomNo, userID uint64, joinedAt time.Time) (int64, error) {
	return execAffected(ctx, q,
		`UPDATE tb_meeting_participant SET join_time = ?, out_time = NULL WHERE room_no = ? AND user_no = ?`,
		joinedAt.UTC(), roomNo, userID)
}

// UpdateOutTimeTx closes the current attendance session.
func (r *ParticipantRepo) UpdateOutTimeTx(ctx context.Context, q Querier, roomNo, userID uint64, leftAt time.Time) (int64, error) {
	return execAffected(ctx, q,
		`UPDATE tb_meeting_participant SET out_time = ? WHERE room_no = ? AND user_no = ?`,
		leftAt.UTC(), roomNo, userID)
}

func queryUserIDs(ctx context.Context, q Querier, query string, args ...interface{}) ([]uint64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func execAffected(ctx context.Context, q Querier, query string, args ...interface{}) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
