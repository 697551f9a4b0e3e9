package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/meeting-sync/internal/model"
)

// CalendarRepo persists team calendars, their events and the event
// participant rows used to mirror meeting rooms into the team calendar.
type CalendarRepo struct {
	db *sql.DB
}

// NewCalendarRepo returns a new CalendarRepo bound to the given database.
func NewCalendarRepo(db *sql.DB) *CalendarRepo { return &CalendarRepo{db: db} }

// FindCalNoByTeamTx returns the calendar of a team or ErrNotFound.
func (r *CalendarRepo) FindCalNoByTeamTx(ctx context.Context, q Querier, teamNo uint64) (uint64, error) {
	var calNo uint64
	err := q.QueryRowContext(ctx, `SELECT cal_no FROM tb_calendar WHERE team_no = ?`, teamNo).Scan(&calNo)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return calNo, nil
}

// InsertTeamCalendarTx creates the calendar of a team.  team_no is unique,
// so when another transaction created it first ErrConflict is returned and
// the caller should read the existing row instead.
func (r *CalendarRepo) InsertTeamCalendarTx(ctx context.Context, q Querier, teamNo, ownerNo uint64) (uint64, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO tb_calendar (team_no, user_no) VALUES (?, ?)`, teamNo, ownerNo)
	if err != nil {
		if isDuplicateKey(err) {
			return 0, ErrConflict
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// InsertEventTx inserts a calendar event and populates its CalDetailNo.
func (r *CalendarRepo) InsertEventTx(ctx context.Context, q Querier, ev *model.CalendarEvent) error {
	const ins = `INSERT INTO tb_calendar_detail
                 (cal_no, title, contents, start_date, start_time, end_date, end_time, reg_user_no)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := q.ExecContext(ctx, ins,
		ev.CalNo, ev.Title, ev.Contents, ev.StartDate, ev.StartTime, ev.EndDate, ev.EndTime, ev.RegUserNo)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.CalDetailNo = uint64(id)
	return nil
}

// UpdateEventTx rewrites the title and schedule of an event.  Contents and
// ownership are left untouched.
func (r *CalendarRepo) UpdateEventTx(ctx context.Context, q Querier, ev *model.CalendarEvent) error {
	const upd = `UPDATE tb_calendar_detail
                 SET title = ?, start_date = ?, start_time = ?, end_date = ?, end_time = ?
                 WHERE cal_detail_no = ?`
	_, err := q.ExecContext(ctx, upd, ev.Title, ev.StartDate, ev.StartTime, ev.EndDate, ev.EndTime, ev.CalDetailNo)
	return err
}

// DeleteEventTx removes a calendar event.
func (r *CalendarRepo) DeleteEventTx(ctx context.Context, q Querier, calDetailNo uint64) (int64, error) {
	return execAffected(ctx, q, `DELETE FROM tb_calendar_detail WHERE cal_detail_no = ?`, calDetailNo)
}

// InsertParticipantsTx adds users to an event in a single statement.
// Passing an empty slice has no effect and returns nil.
func (r *CalendarRepo) InsertParticipantsTx(ctx context.Context, q Querier, calDetailNo uint64, userIDs []uint64) error {
	if len(userIDs) == 0 {
		return nil
	}
	query := `INSERT INTO tb_calendar_participant (cal_detail_no, user_no) VALUES `
	args := make([]interface{}, 0, len(userIDs)*2)
	for i, uid := range userIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?)"
		args = append(args, calDetailNo, uid)
	}
	_, err := q.ExecContext(ctx, query, args...)
	return err
}

// ParticipantUserIDsTx returns the users attached to an event.
func (r *CalendarRepo) ParticipantUserIDsTx(ctx context.Context, q Querier, calDetailNo uint64) ([]uint64, error) {
	return queryUserIDs(ctx, q,
		`SELECT user_no FROM tb_calendar_participant WHERE cal_detail_no = ? ORDER BY user_no`, calDetailNo)
}

// DeleteParticipantsTx detaches the listed users from an event.
func (r *CalendarRepo) DeleteParticipantsTx(ctx context.Context, q Querier, calDetailNo uint64, userIDs []uint64) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM tb_calendar_participant WHERE cal_detail_no = ? AND user_no IN (?)`,
		calDetailNo, userIDs)
	if err != nil {
		return 0, err
	}
	return execAffected(ctx, q, query, args...)
}

// DeleteAllParticipantsTx detaches every user from an event.
func (r *CalendarRepo) DeleteAllParticipantsTx(ctx context.Context, q Querier, calDetailNo uint64) (int64, error) {
	return execAffected(ctx, q, `DELETE FROM tb_calendar_participant WHERE cal_detail_no = ?`, calDetailNo)
}
