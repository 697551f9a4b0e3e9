package service

import (
	"context"
	"time"

	"github.com/iliyamo/meeting-sync/internal/model"
	"github.com/iliyamo/meeting-sync/internal/repository"
)

// Transactor runs fn inside one unit of work.  *repository.TxManager is the
// production implementation.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(tx *repository.Tx) error) error
}

// RoomStore persists meeting rooms.  It is implemented by
// *repository.MeetingRoomRepo.
type RoomStore interface {
	CodeChecker
	InsertTx(ctx context.Context, q repository.Querier, room *model.MeetingRoom) error
	FindByCode(ctx context.Context, code string) (*model.MeetingRoom, error)
	FindByCodeTx(ctx context.Context, q repository.Querier, code string) (*model.MeetingRoom, error)
	FindByIDForUpdateTx(ctx context.Context, q repository.Querier, roomNo uint64) (*model.MeetingRoom, error)
	UpdateScheduleTx(ctx context.Context, q repository.Querier, roomNo uint64, title string, start, end time.Time) error
	SetCalDetailNoTx(ctx context.Context, q repository.Querier, roomNo, calDetailNo uint64) error
	DeleteTx(ctx context.Context, q repository.Querier, roomNo uint64) (int64, error)
}

// ParticipantStore persists room rosters.  It is implemented by
// *repository.ParticipantRepo.
type ParticipantStore interface {
	InsertTx(ctx context.Context, q repository.Querier, roomNo uint64, role model.Role, userIDs []uint64) error
	UserIDsTx(ctx context.Context, q repository.Querier, roomNo uint64) ([]uint64, error)
	DeleteUsersTx(ctx context.Context, q repository.Querier, roomNo uint64, userIDs []uint64) (int64, error)
	DeleteAllTx(ctx context.Context, q repository.Querier, roomNo uint64) (int64, error)
	FindRole(ctx context.Context, roomNo, userID uint64) (model.Role, error)
	FindOwner(ctx context.Context, roomNo uint64) (uint64, error)
	FindOwnerTx(ctx context.Context, q repository.Querier, roomNo uint64) (uint64, error)
	ListWithNames(ctx context.Context, roomNo uint64) ([]model.ParticipantDetail, error)
}

// AttendanceStore records join and leave times.  It is implemented by
// *repository.ParticipantRepo.
type AttendanceStore interface {
	UpdateJoinTimeTx(ctx context.Context, q repository.Querier, roomNo, userID uint64, joinedAt time.Time) (int64, error)
	UpdateOutTimeTx(ctx context.Context, q repository.Querier, roomNo, userID uint64, leftAt time.Time) (int64, error)
}

// CalendarStore persists team calendars and mirrored events.  It is
// implemented by *repository.CalendarRepo.
type CalendarStore interface {
	FindCalNoByTeamTx(ctx context.Context, q repository.Querier, teamNo uint64) (uint64, error)
	InsertTeamCalendarTx(ctx context.Context, q repository.Querier, teamNo, ownerNo uint64) (uint64, error)
	InsertEventTx(ctx context.Context, q repository.Querier, ev *model.CalendarEvent) error
	UpdateEventTx(ctx context.Context, q repository.Querier, ev *model.CalendarEvent) error
	DeleteEventTx(ctx context.Context, q repository.Querier, calDetailNo uint64) (int64, error)
	InsertParticipantsTx(ctx context.Context, q repository.Querier, calDetailNo uint64, userIDs []uint64) error
	ParticipantUserIDsTx(ctx context.Context, q repository.Querier, calDetailNo uint64) ([]uint64, error)
	DeleteParticipantsTx(ctx context.Context, q repository.Querier, calDetailNo uint64, userIDs []uint64) (int64, error)
	DeleteAllParticipantsTx(ctx context.Context, q repository.Querier, calDetailNo uint64) (int64, error)
}

// Notifier publishes a payload to a topic without reporting failures.
// *pubsub.Fanout is the production implementation.
type Notifier interface {
	Publish(topic string, payload any)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)
