package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/meeting-sync/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var duplicate = &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}

func TestWithinTxCommitsAndRunsHooks(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("DELETE FROM tb_meeting_room")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ran := false
	err := NewTxManager(db).WithinTx(context.Background(), func(tx *Tx) error {
		tx.AfterCommit(func() { ran = true })
		if ran {
			t.Fatal("hook ran before commit")
		}
		_, err := NewMeetingRoomRepo(db).DeleteTx(context.Background(), tx, 1)
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if !ran {
		t.Fatal("after-commit hook did not run")
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	ran := false
	err := NewTxManager(db).WithinTx(context.Background(), func(tx *Tx) error {
		tx.AfterCommit(func() { ran = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if ran {
		t.Fatal("hook ran for a rolled back transaction")
	}
}

func TestWithinTxCommitFailure(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("lost connection"))

	ran := false
	err := NewTxManager(db).WithinTx(context.Background(), func(tx *Tx) error {
		tx.AfterCommit(func() { ran = true })
		return nil
	})
	if err == nil || ran {
		t.Fatalf("err = %v, hook ran = %v", err, ran)
	}
}

func TestMeetingRoomInsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMeetingRoomRepo(db)
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	team := uint64(3)

	mock.ExpectExec(q("INSERT INTO tb_meeting_room")).
		WithArgs("ABCD2345", team, "Standup", start, start.Add(30*time.Minute), "N", nil).
		WillReturnResult(sqlmock.NewResult(17, 1))
	room := &model.MeetingRoom{RoomCode: "ABCD2345", TeamNo: &team, Title: "Standup", ScheduledStart: start, ScheduledEnd: start.Add(30 * time.Minute)}
	if err := repo.InsertTx(context.Background(), db, room); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if room.RoomNo != 17 || room.IsPrivate != "N" {
		t.Fatalf("unexpected room %+v", room)
	}

	mock.ExpectExec(q("INSERT INTO tb_meeting_room")).WillReturnError(duplicate)
	if err := repo.InsertTx(context.Background(), db, &model.MeetingRoom{RoomCode: "ABCD2345"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func roomRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"room_no", "room_code", "team_no", "title", "scheduled_time", "scheduled_end_time",
		"cal_detail_no", "is_private", "room_password_hash", "create_date", "update_date"})
}

func TestMeetingRoomFind(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMeetingRoomRepo(db)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q("FROM tb_meeting_room WHERE room_no = ? FOR UPDATE")).WithArgs(uint64(4)).
		WillReturnRows(roomRows().AddRow(4, "ABCD2345", 3, "Standup", now, now.Add(time.Hour), 9, "Y", "hash", now, now))
	room, err := repo.FindByIDForUpdateTx(context.Background(), db, 4)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if *room.TeamNo != 3 || *room.CalDetailNo != 9 || *room.RoomPasswordHash != "hash" || !room.HasMirror() {
		t.Fatalf("unexpected room %+v", room)
	}

	mock.ExpectQuery(q("WHERE room_code = ?")).WithArgs("NOPE").WillReturnRows(roomRows())
	if _, err := repo.FindByCode(context.Background(), "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery(q("WHERE room_code = ?")).WithArgs("OPEN").
		WillReturnRows(roomRows().AddRow(5, "OPEN", nil, "Ad hoc", now, now.Add(time.Hour), nil, "N", nil, now, now))
	room, err = repo.FindByCode(context.Background(), "OPEN")
	if err != nil || room.TeamNo != nil || room.HasMirror() || room.RoomPasswordHash != nil {
		t.Fatalf("nullable columns not handled: %+v %v", room, err)
	}
}

func TestCodeExists(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMeetingRoomRepo(db)
	mock.ExpectQuery(q("SELECT 1 FROM tb_meeting_room")).WithArgs("TAKEN").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(q("SELECT 1 FROM tb_meeting_room")).WithArgs("FREE").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	if ok, err := repo.CodeExists(context.Background(), db, "TAKEN"); !ok || err != nil {
		t.Fatalf("TAKEN: %v %v", ok, err)
	}
	if ok, err := repo.CodeExists(context.Background(), db, "FREE"); ok || err != nil {
		t.Fatalf("FREE: %v %v", ok, err)
	}
}

func TestParticipantBulkInsertAndDiffDelete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewParticipantRepo(db)

	mock.ExpectExec(q("INSERT INTO tb_meeting_participant (room_no, user_no, role_no) VALUES (?, ?, ?),(?, ?, ?)")).
		WithArgs(uint64(1), uint64(2), "C002", uint64(1), uint64(3), "C002").
		WillReturnResult(sqlmock.NewResult(0, 2))
	if err := repo.InsertTx(context.Background(), db, 1, model.RoleInvitee, []uint64{2, 3}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.InsertTx(context.Background(), db, 1, model.RoleInvitee, nil); err != nil {
		t.Fatalf("empty insert should be a no-op: %v", err)
	}
	if err := repo.InsertTx(context.Background(), db, 1, model.Role("GUEST"), []uint64{2}); err == nil {
		t.Fatal("unknown role must be rejected")
	}

	mock.ExpectExec(q("DELETE FROM tb_meeting_participant WHERE room_no = ? AND role_no <> ? AND user_no IN (?, ?)")).
		WithArgs(uint64(1), "C001", uint64(2), uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	n, err := repo.DeleteUsersTx(context.Background(), db, 1, []uint64{2, 5})
	if err != nil || n != 2 {
		t.Fatalf("delete: %d %v", n, err)
	}
	if n, err := repo.DeleteUsersTx(context.Background(), db, 1, nil); n != 0 || err != nil {
		t.Fatalf("empty delete should be a no-op: %d %v", n, err)
	}
}

func TestParticipantLookups(t *testing.T) {
	db, mock := newMock(t)
	repo := NewParticipantRepo(db)

	mock.ExpectQuery(q("SELECT role_no FROM tb_meeting_participant")).WithArgs(uint64(1), uint64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"role_no"}).AddRow("C002"))
	if role, err := repo.FindRole(context.Background(), 1, 2); err != nil || role != model.RoleInvitee {
		t.Fatalf("role = %q, %v", role, err)
	}
	mock.ExpectQuery(q("SELECT role_no FROM tb_meeting_participant")).WithArgs(uint64(1), uint64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"role_no"}))
	if _, err := repo.FindRole(context.Background(), 1, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectQuery(q("AND role_no = ? LIMIT 1")).WithArgs(uint64(1), "C001").
		WillReturnRows(sqlmock.NewRows([]string{"user_no"}).AddRow(7))
	if owner, err := repo.FindOwner(context.Background(), 1); err != nil || owner != 7 {
		t.Fatalf("owner = %d, %v", owner, err)
	}

	mock.ExpectQuery(q("SELECT user_no FROM tb_meeting_participant WHERE room_no = ? ORDER BY user_no")).WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"user_no"}).AddRow(2).AddRow(7))
	ids, err := repo.UserIDsTx(context.Background(), db, 1)
	if err != nil || len(ids) != 2 || ids[0] != 2 || ids[1] != 7 {
		t.Fatalf("ids = %v, %v", ids, err)
	}

	joined := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(q("LEFT JOIN tb_member m")).WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"user_no", "name", "role_no", "join_time", "out_time"}).
			AddRow(7, "Ada", "C001", joined, nil).
			AddRow(2, "", "C002", nil, nil))
	list, err := repo.ListWithNames(context.Background(), 1)
	if err != nil || len(list) != 2 {
		t.Fatalf("list = %v, %v", list, err)
	}
	if list[0].Role != model.RoleOwner || list[0].JoinedAt == nil || !list[0].JoinedAt.Equal(joined) || list[0].LeftAt != nil {
		t.Fatalf("unexpected owner row %+v", list[0])
	}
	if list[1].Role != model.RoleInvitee || list[1].JoinedAt != nil {
		t.Fatalf("unexpected invitee row %+v", list[1])
	}
}

func TestAttendanceUpdates(t *testing.T) {
	db, mock := newMock(t)
	repo := NewParticipantRepo(db)
	at := time.Date(2025, 1, 1, 9, 0, 0, 0, time.FixedZone("KST", 9*3600))

	mock.ExpectExec(q("SET join_time = ?, out_time = NULL")).WithArgs(at.UTC(), uint64(1), uint64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if n, err := repo.UpdateJoinTimeTx(context.Background(), db, 1, 2, at); n != 1 || err != nil {
		t.Fatalf("join: %d %v", n, err)
	}
	mock.ExpectExec(q("SET out_time = ?")).WithArgs(at.UTC(), uint64(1), uint64(9)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if n, err := repo.UpdateOutTimeTx(context.Background(), db, 1, 9, at); n != 0 || err != nil {
		t.Fatalf("leave: %d %v", n, err)
	}
}

func TestTeamCalendarInsertConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCalendarRepo(db)

	mock.ExpectQuery(q("SELECT cal_no FROM tb_calendar WHERE team_no = ?")).WithArgs(uint64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"cal_no"}))
	if _, err := repo.FindCalNoByTeamTx(context.Background(), db, 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	mock.ExpectExec(q("INSERT INTO tb_calendar (team_no, user_no)")).WithArgs(uint64(3), uint64(1)).
		WillReturnError(duplicate)
	if _, err := repo.InsertTeamCalendarTx(context.Background(), db, 3, 1); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	mock.ExpectExec(q("INSERT INTO tb_calendar (team_no, user_no)")).WithArgs(uint64(4), uint64(1)).
		WillReturnResult(sqlmock.NewResult(12, 1))
	if calNo, err := repo.InsertTeamCalendarTx(context.Background(), db, 4, 1); calNo != 12 || err != nil {
		t.Fatalf("insert: %d %v", calNo, err)
	}
}

func TestCalendarEventAndRoster(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCalendarRepo(db)
	ev := &model.CalendarEvent{CalNo: 12, Title: "Standup", StartDate: "2025-01-01", StartTime: "09:00:00", EndDate: "2025-01-01", EndTime: "09:30:00", RegUserNo: 1}

	mock.ExpectExec(q("INSERT INTO tb_calendar_detail")).
		WithArgs(uint64(12), "Standup", "", "2025-01-01", "09:00:00", "2025-01-01", "09:30:00", uint64(1)).
		WillReturnResult(sqlmock.NewResult(40, 1))
	if err := repo.InsertEventTx(context.Background(), db, ev); err != nil || ev.CalDetailNo != 40 {
		t.Fatalf("insert event: %v %+v", err, ev)
	}

	ev.Title = "Retro"
	mock.ExpectExec(q("UPDATE tb_calendar_detail")).
		WithArgs("Retro", "2025-01-01", "09:00:00", "2025-01-01", "09:30:00", uint64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.UpdateEventTx(context.Background(), db, ev); err != nil {
		t.Fatalf("update event: %v", err)
	}

	mock.ExpectExec(q("INSERT INTO tb_calendar_participant (cal_detail_no, user_no) VALUES (?, ?),(?, ?)")).
		WithArgs(uint64(40), uint64(2), uint64(40), uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	if err := repo.InsertParticipantsTx(context.Background(), db, 40, []uint64{2, 3}); err != nil {
		t.Fatalf("insert participants: %v", err)
	}

	mock.ExpectQuery(q("SELECT user_no FROM tb_calendar_participant")).WithArgs(uint64(40)).
		WillReturnRows(sqlmock.NewRows([]string{"user_no"}).AddRow(2).AddRow(3))
	if ids, err := repo.ParticipantUserIDsTx(context.Background(), db, 40); err != nil || len(ids) != 2 {
		t.Fatalf("roster: %v %v", ids, err)
	}

	mock.ExpectExec(q("DELETE FROM tb_calendar_participant WHERE cal_detail_no = ? AND user_no IN (?)")).
		WithArgs(uint64(40), uint64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if n, err := repo.DeleteParticipantsTx(context.Background(), db, 40, []uint64{2}); n != 1 || err != nil {
		t.Fatalf("delete participants: %d %v", n, err)
	}

	mock.ExpectExec(q("DELETE FROM tb_calendar_participant WHERE cal_detail_no = ?")).WithArgs(uint64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("DELETE FROM tb_calendar_detail WHERE cal_detail_no = ?")).WithArgs(uint64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if _, err := repo.DeleteAllParticipantsTx(context.Background(), db, 40); err != nil {
		t.Fatalf("delete all participants: %v", err)
	}
	if n, err := repo.DeleteEventTx(context.Background(), db, 40); n != 1 || err != nil {
		t.Fatalf("delete event: %d %v", n, err)
	}
}
