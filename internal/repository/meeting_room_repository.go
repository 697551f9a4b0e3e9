package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/meeting-sync/internal/model"
)

// MeetingRoomRepo provides persistence for meeting rooms.  Methods with a
// Tx suffix take the caller's Querier so they can be combined with the
// participant and calendar repositories inside one transaction.  All
// timestamps are stored in UTC.
type MeetingRoomRepo struct {
	db *sql.DB
}

// NewMeetingRoomRepo returns a new MeetingRoomRepo bound to the given database.
func NewMeetingRoomRepo(db *sql.DB) *MeetingRoomRepo { return &MeetingRoomRepo{db: db} }

const roomColumns = `room_no, room_code, team_no, title, scheduled_time, scheduled_end_time,
                     cal_detail_no, is_private, room_password_hash, create_date, update_date`

// InsertTx inserts a new room and populates the generated RoomNo.  The
// room_code column is unique; a duplicate surfaces as ErrConflict.
func (r *MeetingRoomRepo) InsertTx(ctx context.Context, q Querier, room *model.MeetingRoom) error {
	const ins = `INSERT INTO tb_meeting_room
                 (room_code, team_no, title, scheduled_time, scheduled_end_time, is_private, room_password_hash)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`
	isPrivate := room.IsPrivate
	if isPrivate == "" {
		isPrivate = "N"
	}
	res, err := q.ExecContext(ctx, ins,
		room.RoomCode, nullUint64(room.TeamNo), room.Title,
		room.ScheduledStart.UTC(), room.ScheduledEnd.UTC(),
		isPrivate, nullString(room.RoomPasswordHash),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	room.RoomNo = uint64(id)
	room.IsPrivate = isPrivate
	return nil
}

// FindByCode returns the room with the given public code or ErrNotFound.
func (r *MeetingRoomRepo) FindByCode(ctx context.Context, code string) (*model.MeetingRoom, error) {
	return r.FindByCodeTx(ctx, r.db, code)
}

// FindByCodeTx is FindByCode within the caller's scope.
func (r *MeetingRoomRepo) FindByCodeTx(ctx context.Context, q Querier, code string) (*model.MeetingRoom, error) {
	return scanRoom(q.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM tb_meeting_room WHERE room_code = ?`, code))
}

// CodeExists reports whether any room already uses code.
func (r *MeetingRoomRepo) CodeExists(ctx context.Context, q Querier, code string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM tb_meeting_room WHERE room_code = ? LIMIT 1`, code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindByIDForUpdateTx loads a room and locks its row until the surrounding
// transaction ends, so concurrent edits of the same room are serialized.
func (r *MeetingRoomRepo) FindByIDForUpdateTx(ctx context.Context, q Querier, roomNo uint64) (*model.MeetingRoom, error) {
	return scanRoom(q.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM tb_meeting_room WHERE room_no = ? FOR UPDATE`, roomNo))
}

// UpdateScheduleTx sets the title and the scheduled window of a room.
func (r *MeetingRoomRepo) UpdateScheduleTx(ctx context.Context, q Querier, roomNo uint64, title string, start, end time.Time) error {
	const upd = `UPDATE tb_meeting_room SET title = ?, scheduled_time = ?, scheduled_end_time = ? WHERE room_no = ?`
	_, err := q.ExecContext(ctx, upd, title, start.UTC(), end.UTC(), roomNo)
	return err
}

// SetCalDetailNoTx stores the id of the mirrored calendar event on the room.
func (r *MeetingRoomRepo) SetCalDetailNoTx(ctx context.Context, q Querier, roomNo, calDetailNo uint64) error {
	_, err := q.ExecContext(ctx, `UPDATE tb_meeting_room SET cal_detail_no = ? WHERE room_no = ?`, calDetailNo, roomNo)
	return err
}

// DeleteTx removes the room row and returns the number of rows deleted.
func (r *MeetingRoomRepo) DeleteTx(ctx context.Context, q Querier, roomNo uint64) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM tb_meeting_room WHERE room_no = ?`, roomNo)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRoom(row *sql.Row) (*model.MeetingRoom, error) {
	var (
		room        model.MeetingRoom
		teamNo      sql.NullInt64
		calDetailNo sql.NullInt64
		pwHash      sql.NullString
	)
	err := row.Scan(
		&room.RoomNo, &room.RoomCode, &teamNo, &room.Title,
		&room.ScheduledStart, &room.ScheduledEnd,
		&calDetailNo, &room.IsPrivate, &pwHash, &room.CreatedAt, &room.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if teamNo.Valid {
		v := uint64(teamNo.Int64)
		room.TeamNo = &v
	}
	if calDetailNo.Valid {
		v := uint64(calDetailNo.Int64)
		room.CalDetailNo = &v
	}
	if pwHash.Valid {
		h := pwHash.String
		room.RoomPasswordHash = &h
	}
	return &room, nil
}

func nullUint64(v *uint64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
