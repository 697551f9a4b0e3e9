package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/meeting-sync/internal/model"
	"github.com/iliyamo/meeting-sync/internal/queue"
	"github.com/iliyamo/meeting-sync/internal/repository"
)

// localLayouts are the bare forms accepted after RFC3339 fails.  They are
// read in the tracker's location.
var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp reads an attendance timestamp.  Offset-qualified RFC3339
// input keeps its offset; bare local input is interpreted in loc.  The
// result is always UTC.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time format: %s", raw)
}

// RoomFinder looks rooms up by code.
type RoomFinder interface {
	FindByCode(ctx context.Context, code string) (*model.MeetingRoom, error)
}

// AttendanceTracker records when participants enter and leave a room.  It
// never creates participant rows.
type AttendanceTracker struct {
	tx       Transactor
	rooms    RoomFinder
	store    AttendanceStore
	notifier Notifier
	loc      *time.Location
	clock    Clock
}

// NewAttendanceTracker wires the tracker.  A nil loc means UTC and a nil
// clock the system clock.
func NewAttendanceTracker(tx Transactor, rooms RoomFinder, store AttendanceStore, notifier Notifier, loc *time.Location, clock Clock) *AttendanceTracker {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = SystemClock
	}
	return &AttendanceTracker{tx: tx, rooms: rooms, store: store, notifier: notifier, loc: loc, clock: clock}
}

func (a *AttendanceTracker) timestamp(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return a.clock.Now().UTC(), nil
	}
	t, err := ParseTimestamp(raw, a.loc)
	if err != nil {
		v := &ValidationError{}
		v.add(field, err.Error())
		return time.Time{}, v
	}
	return t, nil
}

func (a *AttendanceTracker) room(ctx context.Context, roomCode string) (*model.MeetingRoom, error) {
	room, err := a.rooms.FindByCode(ctx, roomCode)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	return room, nil
}

// LogEnter stamps userID's join time and reopens the session.  A second
// enter overwrites the earlier join time; only the latest session is kept.
func (a *AttendanceTracker) LogEnter(ctx context.Context, roomCode string, userID uint64, joinedAt string) error {
	at, err := a.timestamp("joinedAt", joinedAt)
	if err != nil {
		return err
	}
	room, err := a.room(ctx, roomCode)
	if err != nil {
		return err
	}
	err = a.tx.WithinTx(ctx, func(tx *repository.Tx) error {
		n, err := a.store.UpdateJoinTimeTx(ctx, tx, room.RoomNo, userID, at)
		if err != nil {
			return fmt.Errorf("update join time: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		msgs := attendanceNotifications(queue.ParticipantJoined, room, userID, at)
		tx.AfterCommit(func() { publishBatch(a.notifier, msgs) })
		return nil
	})
	if err != nil {
		return err
	}
	log.Debug().Str("module", "service.attendance").Uint64("room_no", room.RoomNo).Uint64("user", userID).Time("joined_at", at).Msg("participant entered")
	return nil
}

// LogLeave stamps userID's leave time.  joinedAt, when given, must not be
// after leftAt.
func (a *AttendanceTracker) LogLeave(ctx context.Context, roomCode string, userID uint64, joinedAt, leftAt string) error {
	left, err := a.timestamp("leftAt", leftAt)
	if err != nil {
		return err
	}
	if strings.TrimSpace(joinedAt) != "" {
		joined, err := a.timestamp("joinedAt", joinedAt)
		if err != nil {
			return err
		}
		if left.Before(joined) {
			v := &ValidationError{}
			v.add("leftAt", "must not be before joinedAt")
			return v
		}
	}
	room, err := a.room(ctx, roomCode)
	if err != nil {
		return err
	}
	err = a.tx.WithinTx(ctx, func(tx *repository.Tx) error {
		n, err := a.store.UpdateOutTimeTx(ctx, tx, room.RoomNo, userID, left)
		if err != nil {
			return fmt.Errorf("update out time: %w", err)
		}
		if n == 0 {
			return ErrNotFound
		}
		msgs := attendanceNotifications(queue.ParticipantLeft, room, userID, left)
		tx.AfterCommit(func() { publishBatch(a.notifier, msgs) })
		return nil
	})
	if err != nil {
		return err
	}
	log.Debug().Str("module", "service.attendance").Uint64("room_no", room.RoomNo).Uint64("user", userID).Time("left_at", left).Msg("participant left")
	return nil
}
