// Package service holds the meeting room lifecycle: it creates, edits and
// deletes rooms while keeping their roster and the mirrored team-calendar
// event consistent inside one transaction, and hands notifications to the
// fan-out once the transaction has committed.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/meeting-sync/internal/model"
	"github.com/iliyamo/meeting-sync/internal/repository"
	"github.com/iliyamo/meeting-sync/internal/utils"
)

const (
	mirrorDateLayout = "2006-01-02"
	mirrorTimeLayout = "15:04:05"
)

// Options tune a MeetingRoomService.  Zero values select defaults.
type Options struct {
	Location   *time.Location // zone the calendar mirror is rendered in (UTC)
	CodeLength int            // room code length (DefaultCodeLength)
	BcryptCost int            // cost for private room passwords (bcrypt.DefaultCost)
	Clock      Clock          // SystemClock
}

// MeetingRoomService orchestrates the meeting room lifecycle across the
// room, participant and calendar stores.
type MeetingRoomService struct {
	tx           Transactor
	rooms        RoomStore
	participants ParticipantStore
	calendars    CalendarStore
	codes        *CodeGenerator
	notifier     Notifier

	loc        *time.Location
	codeLength int
	bcryptCost int
	clock      Clock
}

// NewMeetingRoomService wires the service.  It panics if a dependency is nil.
func NewMeetingRoomService(tx Transactor, rooms RoomStore, participants ParticipantStore, calendars CalendarStore, codes *CodeGenerator, notifier Notifier, opts Options) *MeetingRoomService {
	if tx == nil || rooms == nil || participants == nil || calendars == nil || codes == nil || notifier == nil {
		panic("nil dependency passed to NewMeetingRoomService")
	}
	s := &MeetingRoomService{
		tx:           tx,
		rooms:        rooms,
		participants: participants,
		calendars:    calendars,
		codes:        codes,
		notifier:     notifier,
		loc:          opts.Location,
		codeLength:   opts.CodeLength,
		bcryptCost:   opts.BcryptCost,
		clock:        opts.Clock,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.codeLength <= 0 {
		s.codeLength = DefaultCodeLength
	}
	if s.clock == nil {
		s.clock = SystemClock
	}
	return s
}

// CreateRoomInput is the request to schedule a new room.  ParticipantIDs
// may include the owner and duplicates; both are ignored.
type CreateRoomInput struct {
	TeamNo         *uint64
	Title          string
	Start          time.Time
	End            time.Time
	OwnerID        uint64
	ParticipantIDs []uint64
	Private        bool
	Password       string
}

func (in CreateRoomInput) validate() error {
	v := &ValidationError{}
	if strings.TrimSpace(in.Title) == "" {
		v.add("title", "must not be blank")
	}
	if in.Start.IsZero() {
		v.add("scheduledStart", "is required")
	}
	if in.End.IsZero() {
		v.add("scheduledEnd", "is required")
	} else if !in.Start.IsZero() && !in.End.After(in.Start) {
		v.add("scheduledEnd", "must be after scheduledStart")
	}
	if in.OwnerID == 0 {
		v.add("ownerId", "is required")
	}
	if in.Private {
		if strings.TrimSpace(in.Password) == "" {
			v.add("password", "is required for a private room")
		} else if len(in.Password) > utils.MaxPasswordBytes {
			v.add("password", fmt.Sprintf("must be at most %d bytes", utils.MaxPasswordBytes))
		}
	}
	return v.orNil()
}

// CreateResult identifies a newly created room.
type CreateResult struct {
	RoomNo      uint64  `json:"room_no"`
	RoomCode    string  `json:"room_code"`
	CalDetailNo *uint64 `json:"cal_detail_no,omitempty"`
}

// Create schedules a room.  The room, its OWNER and INVITEE rows and, for a
// team room, the mirrored calendar event with its participant rows are
// written in one transaction.
func (s *MeetingRoomService) Create(ctx context.Context, in CreateRoomInput) (CreateResult, error) {
	if err := in.validate(); err != nil {
		return CreateResult{}, err
	}
	room := &model.MeetingRoom{
		TeamNo:         in.TeamNo,
		Title:          strings.TrimSpace(in.Title),
		ScheduledStart: in.Start.UTC(),
		ScheduledEnd:   in.End.UTC(),
		IsPrivate:      "N",
	}
	if in.Private {
		hash, err := utils.HashPassword(in.Password, s.bcryptCost)
		if err != nil {
			return CreateResult{}, fmt.Errorf("hash room password: %w", err)
		}
		room.IsPrivate = "Y"
		room.RoomPasswordHash = &hash
	}
	invitees := uniqueIDs(in.ParticipantIDs, in.OwnerID)

	err := s.tx.WithinTx(ctx, func(tx *repository.Tx) error {
		code, err := s.codes.Generate(ctx, tx, s.codeLength)
		if err != nil {
			return err
		}
		room.RoomCode = code
		if err := s.rooms.InsertTx(ctx, tx, room); err != nil {
			return fmt.Errorf("insert room: %w", err)
		}

		if room.TeamNo != nil {
			calNo, err := s.teamCalendarTx(ctx, tx, *room.TeamNo, in.OwnerID)
			if err != nil {
				return err
			}
			ev := s.mirrorEvent(room)
			ev.CalNo = calNo
			ev.RegUserNo = in.OwnerID
			if err := s.calendars.InsertEventTx(ctx, tx, &ev); err != nil {
				return fmt.Errorf("insert calendar event: %w", err)
			}
			if err := s.rooms.SetCalDetailNoTx(ctx, tx, room.RoomNo, ev.CalDetailNo); err != nil {
				return fmt.Errorf("link calendar event: %w", err)
			}
			calDetailNo := ev.CalDetailNo
			room.CalDetailNo = &calDetailNo
		}

		if err := s.participants.InsertTx(ctx, tx, room.RoomNo, model.RoleOwner, []uint64{in.OwnerID}); err != nil {
			return fmt.Errorf("insert owner: %w", err)
		}
		if err := s.participants.InsertTx(ctx, tx, room.RoomNo, model.RoleInvitee, invitees); err != nil {
			return fmt.Errorf("insert invitees: %w", err)
		}
		if room.HasMirror() {
			if err := s.calendars.InsertParticipantsTx(ctx, tx, *room.CalDetailNo, invitees); err != nil {
				return fmt.Errorf("insert calendar participants: %w", err)
			}
		}

		msgs := roomCreatedNotifications(room, in.OwnerID, invitees, s.clock.Now())
		tx.AfterCommit(func() { s.publish(msgs) })
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}

	log.Info().Str("module", "service.meeting_room").Uint64("room_no", room.RoomNo).
		Str("room_code", room.RoomCode).Uint64("owner", in.OwnerID).Int("invitees", len(invitees)).
		Msg("meeting room created")
	return CreateResult{RoomNo: room.RoomNo, RoomCode: room.RoomCode, CalDetailNo: room.CalDetailNo}, nil
}

// teamCalendarTx returns the team's calendar, creating it on first use.  A
// concurrent creator winning the insert race is resolved by reading its row.
func (s *MeetingRoomService) teamCalendarTx(ctx context.Context, tx *repository.Tx, teamNo, ownerID uint64) (uint64, error) {
	calNo, err := s.calendars.FindCalNoByTeamTx(ctx, tx, teamNo)
	if err == nil {
		return calNo, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("find team calendar: %w", err)
	}
	calNo, err = s.calendars.InsertTeamCalendarTx(ctx, tx, teamNo, ownerID)
	if err == nil {
		return calNo, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return 0, fmt.Errorf("insert team calendar: %w", err)
	}
	calNo, err = s.calendars.FindCalNoByTeamTx(ctx, tx, teamNo)
	if err != nil {
		return 0, fmt.Errorf("re-read team calendar: %w", err)
	}
	return calNo, nil
}

// mirrorEvent renders the calendar fields of room.  Create and Update both
// go through it so the two records always display the same values.
func (s *MeetingRoomService) mirrorEvent(room *model.MeetingRoom) model.CalendarEvent {
	start := room.ScheduledStart.In(s.loc)
	end := room.ScheduledEnd.In(s.loc)
	return model.CalendarEvent{
		Title:     room.Title,
		StartDate: start.Format(mirrorDateLayout),
		StartTime: start.Format(mirrorTimeLayout),
		EndDate:   end.Format(mirrorDateLayout),
		EndTime:   end.Format(mirrorTimeLayout),
	}
}

// UpdateRoomInput is an owner's edit of a room.  A nil Title keeps the
// current title.  A nil ParticipantIDs keeps the roster as is; a non-nil
// slice is the complete desired roster (the owner is always kept).
type UpdateRoomInput struct {
	RoomNo         uint64
	EditorID       uint64
	Title          *string
	Start          time.Time
	End            time.Time
	ParticipantIDs []uint64
}

func (in UpdateRoomInput) validate() error {
	v := &ValidationError{}
	if in.RoomNo == 0 {
		v.add("roomNo", "is required")
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		v.add("title", "must not be blank")
	}
	if in.Start.IsZero() {
		v.add("scheduledStart", "is required")
	}
	if in.End.IsZero() {
		v.add("scheduledEnd", "is required")
	} else if !in.Start.IsZero() && !in.End.After(in.Start) {
		v.add("scheduledEnd", "must be after scheduledStart")
	}
	return v.orNil()
}

// Update edits the title, schedule and roster of a room.  Only the OWNER
// may edit; anyone else gets ErrForbidden before anything is written.  The
// room row is locked for the rest of the transaction so the roster diff is
// computed and applied without interleaving with another editor.
func (s *MeetingRoomService) Update(ctx context.Context, in UpdateRoomInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	return s.tx.WithinTx(ctx, func(tx *repository.Tx) error {
		room, err := s.rooms.FindByIDForUpdateTx(ctx, tx, in.RoomNo)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load room: %w", err)
		}
		owner, err := s.ownerTx(ctx, tx, room.RoomNo)
		if err != nil {
			return err
		}
		if in.EditorID != owner {
			return ErrForbidden
		}

		if in.Title != nil {
			room.Title = strings.TrimSpace(*in.Title)
		}
		room.ScheduledStart = in.Start.UTC()
		room.ScheduledEnd = in.End.UTC()
		if err := s.rooms.UpdateScheduleTx(ctx, tx, room.RoomNo, room.Title, room.ScheduledStart, room.ScheduledEnd); err != nil {
			return fmt.Errorf("update room: %w", err)
		}
		if room.HasMirror() {
			ev := s.mirrorEvent(room)
			ev.CalDetailNo = *room.CalDetailNo
			if err := s.calendars.UpdateEventTx(ctx, tx, &ev); err != nil {
				return fmt.Errorf("update calendar event: %w", err)
			}
		}

		current, err := s.participants.UserIDsTx(ctx, tx, room.RoomNo)
		if err != nil {
			return fmt.Errorf("load roster: %w", err)
		}
		var toAdd, toRemove []uint64
		if in.ParticipantIDs != nil {
			toAdd, toRemove = DiffRoster(current, in.ParticipantIDs, owner)
			if err := s.participants.InsertTx(ctx, tx, room.RoomNo, model.RoleInvitee, toAdd); err != nil {
				return fmt.Errorf("add invitees: %w", err)
			}
			if _, err := s.participants.DeleteUsersTx(ctx, tx, room.RoomNo, toRemove); err != nil {
				return fmt.Errorf("remove invitees: %w", err)
			}
			if room.HasMirror() {
				if err := s.syncCalendarRosterTx(ctx, tx, *room.CalDetailNo, in.ParticipantIDs, owner); err != nil {
					return err
				}
			}
		}

		retained := applyDiff(current, nil, toRemove, owner)
		retained = subtract(retained, toAdd)
		msgs := roomUpdatedNotifications(room, in.EditorID, owner, toAdd, retained, toRemove, s.clock.Now())
		tx.AfterCommit(func() { s.publish(msgs) })
		return nil
	})
}

// syncCalendarRosterTx applies the desired roster to the mirrored event.
// It diffs against the event's own rows, which never include the owner.
func (s *MeetingRoomService) syncCalendarRosterTx(ctx context.Context, tx *repository.Tx, calDetailNo uint64, desired []uint64, owner uint64) error {
	current, err := s.calendars.ParticipantUserIDsTx(ctx, tx, calDetailNo)
	if err != nil {
		return fmt.Errorf("load calendar roster: %w", err)
	}
	toAdd, toRemove := DiffRoster(current, desired, owner)
	if err := s.calendars.InsertParticipantsTx(ctx, tx, calDetailNo, toAdd); err != nil {
		return fmt.Errorf("add calendar participants: %w", err)
	}
	if _, err := s.calendars.DeleteParticipantsTx(ctx, tx, calDetailNo, toRemove); err != nil {
		return fmt.Errorf("remove calendar participants: %w", err)
	}
	return nil
}

// Delete removes a room together with its roster and calendar mirror.
// Deleting a room that does not exist succeeds, so client retries are
// harmless.  Only the OWNER may delete.
func (s *MeetingRoomService) Delete(ctx context.Context, roomNo, editorID uint64) error {
	deleted := false
	err := s.tx.WithinTx(ctx, func(tx *repository.Tx) error {
		room, err := s.rooms.FindByIDForUpdateTx(ctx, tx, roomNo)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load room: %w", err)
		}
		owner, err := s.ownerTx(ctx, tx, room.RoomNo)
		if err != nil {
			return err
		}
		if editorID != owner {
			return ErrForbidden
		}
		members, err := s.participants.UserIDsTx(ctx, tx, room.RoomNo)
		if err != nil {
			return fmt.Errorf("load roster: %w", err)
		}

		if room.HasMirror() {
			if _, err := s.calendars.DeleteAllParticipantsTx(ctx, tx, *room.CalDetailNo); err != nil {
				return fmt.Errorf("delete calendar participants: %w", err)
			}
			if _, err := s.calendars.DeleteEventTx(ctx, tx, *room.CalDetailNo); err != nil {
				return fmt.Errorf("delete calendar event: %w", err)
			}
		}
		if _, err := s.participants.DeleteAllTx(ctx, tx, room.RoomNo); err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}
		if _, err := s.rooms.DeleteTx(ctx, tx, room.RoomNo); err != nil {
			return fmt.Errorf("delete room: %w", err)
		}

		msgs := roomDeletedNotifications(room, editorID, owner, uniqueIDs(members, owner), s.clock.Now())
		tx.AfterCommit(func() { s.publish(msgs) })
		deleted = true
		return nil
	})
	if err == nil && deleted {
		log.Info().Str("module", "service.meeting_room").Uint64("room_no", roomNo).Uint64("editor", editorID).Msg("meeting room deleted")
	}
	return err
}

// ownerTx returns the OWNER of a room.  A room without an owner row is
// treated as editable by nobody.
func (s *MeetingRoomService) ownerTx(ctx context.Context, tx *repository.Tx, roomNo uint64) (uint64, error) {
	owner, err := s.participants.FindOwnerTx(ctx, tx, roomNo)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, ErrForbidden
	}
	if err != nil {
		return 0, fmt.Errorf("load owner: %w", err)
	}
	return owner, nil
}

// CheckAuthorization tells whether userID may join the room with the given
// code.  An unknown code is simply not authorized.
func (s *MeetingRoomService) CheckAuthorization(ctx context.Context, roomCode string, userID uint64) (model.AuthzResult, error) {
	room, err := s.rooms.FindByCode(ctx, roomCode)
	if errors.Is(err, repository.ErrNotFound) {
		return model.AuthzResult{}, nil
	}
	if err != nil {
		return model.AuthzResult{}, fmt.Errorf("load room: %w", err)
	}
	role, err := s.participants.FindRole(ctx, room.RoomNo, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.AuthzResult{Title: room.Title}, nil
	}
	if err != nil {
		return model.AuthzResult{}, fmt.Errorf("load role: %w", err)
	}
	return model.AuthzResult{Title: room.Title, Role: role, Authorized: true}, nil
}

// IsParticipant reports whether userID has a participant row in roomNo.
func (s *MeetingRoomService) IsParticipant(ctx context.Context, roomNo, userID uint64) (bool, error) {
	_, err := s.participants.FindRole(ctx, roomNo, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetRoomDetail returns a room with its roster.  Only participants may see
// it; other callers get ErrForbidden.
func (s *MeetingRoomService) GetRoomDetail(ctx context.Context, roomCode string, userID uint64) (*model.RoomDetail, error) {
	room, err := s.rooms.FindByCode(ctx, roomCode)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if _, err := s.participants.FindRole(ctx, room.RoomNo, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("load role: %w", err)
	}
	roster, err := s.participants.ListWithNames(ctx, room.RoomNo)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	var creator uint64
	for _, p := range roster {
		if p.Role == model.RoleOwner {
			creator = p.UserNo
			break
		}
	}
	return &model.RoomDetail{
		RoomNo:         room.RoomNo,
		RoomCode:       room.RoomCode,
		TeamNo:         room.TeamNo,
		Title:          room.Title,
		ScheduledStart: room.ScheduledStart.UTC(),
		ScheduledEnd:   room.ScheduledEnd.UTC(),
		CalDetailNo:    room.CalDetailNo,
		IsPrivate:      room.IsPrivate == "Y",
		CreatorUserNo:  creator,
		IsCreator:      creator != 0 && creator == userID,
		Participants:   roster,
	}, nil
}
