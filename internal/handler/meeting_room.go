package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/meeting-sync/internal/model"
	"github.com/iliyamo/meeting-sync/internal/service"
)

// RoomService is the meeting room lifecycle as seen by the HTTP layer.
type RoomService interface {
	Create(ctx context.Context, in service.CreateRoomInput) (service.CreateResult, error)
	Update(ctx context.Context, in service.UpdateRoomInput) error
	Delete(ctx context.Context, roomNo, editorID uint64) error
	CheckAuthorization(ctx context.Context, roomCode string, userID uint64) (model.AuthzResult, error)
	GetRoomDetail(ctx context.Context, roomCode string, userID uint64) (*model.RoomDetail, error)
}

// AttendanceService records enter and leave signals.
type AttendanceService interface {
	LogEnter(ctx context.Context, roomCode string, userID uint64, joinedAt string) error
	LogLeave(ctx context.Context, roomCode string, userID uint64, joinedAt, leftAt string) error
}

// MeetingRoomHandler serves the /v1/meeting-rooms endpoints.
type MeetingRoomHandler struct {
	Rooms      RoomService
	Attendance AttendanceService
	Location   *time.Location // zone for schedule strings without an offset
}

// NewMeetingRoomHandler constructs the handler and panics if a dependency is nil.
func NewMeetingRoomHandler(rooms RoomService, attendance AttendanceService, loc *time.Location) *MeetingRoomHandler {
	if rooms == nil || attendance == nil {
		panic("nil service passed to NewMeetingRoomHandler")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &MeetingRoomHandler{Rooms: rooms, Attendance: attendance, Location: loc}
}

type createRoomRequest struct {
	TeamNo         *uint64  `json:"team_no"`
	Title          string   `json:"title"`
	ScheduledStart string   `json:"scheduled_start"`
	ScheduledEnd   string   `json:"scheduled_end"`
	ParticipantIDs []uint64 `json:"participant_ids"`
	IsPrivate      bool     `json:"is_private"`
	Password       string   `json:"password"`
}

// updateRoomRequest leaves ParticipantIDs nil when the field is absent, so
// an omitted roster keeps the current one while [] clears it.
type updateRoomRequest struct {
	Title          *string  `json:"title"`
	ScheduledStart string   `json:"scheduled_start"`
	ScheduledEnd   string   `json:"scheduled_end"`
	ParticipantIDs []uint64 `json:"participant_ids"`
}

type attendanceRequest struct {
	JoinedAt string `json:"joined_at"`
	LeftAt   string `json:"left_at"`
}

// schedule parses the start and end strings.  Blank values are left zero
// for the service to reject.
func (h *MeetingRoomHandler) schedule(start, end string) (time.Time, time.Time, error) {
	v := &service.ValidationError{FieldErrors: map[string]string{}}
	parse := func(field, raw string) time.Time {
		if strings.TrimSpace(raw) == "" {
			return time.Time{}
		}
		t, err := service.ParseTimestamp(raw, h.Location)
		if err != nil {
			v.FieldErrors[field] = err.Error()
		}
		return t
	}
	s := parse("scheduledStart", start)
	e := parse("scheduledEnd", end)
	if v.HasErrors() {
		return time.Time{}, time.Time{}, v
	}
	return s, e, nil
}

// Create handles POST /v1/meeting-rooms.  The caller becomes the OWNER.
func (h *MeetingRoomHandler) Create(c echo.Context) error {
	uid, ok, err := currentUser(c)
	if !ok {
		return err
	}
	var req createRoomRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	start, end, err := h.schedule(req.ScheduledStart, req.ScheduledEnd)
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.Rooms.Create(c.Request().Context(), service.CreateRoomInput{
		TeamNo:         req.TeamNo,
		Title:          req.Title,
		Start:          start,
		End:            end,
		OwnerID:        uid,
		ParticipantIDs: req.ParticipantIDs,
		Private:        req.IsPrivate,
		Password:       req.Password,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// Update handles PUT /v1/meeting-rooms/:room where :room is the room number.
func (h *MeetingRoomHandler) Update(c echo.Context) error {
	uid, ok, err := currentUser(c)
	if !ok {
		return err
	}
	roomNo, ok := parseRoomNo(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room number"})
	}
	var req updateRoomRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	start, end, err := h.schedule(req.ScheduledStart, req.ScheduledEnd)
	if err != nil {
		return writeError(c, err)
	}
	err = h.Rooms.Update(c.Request().Context(), service.UpdateRoomInput{
		RoomNo:         roomNo,
		EditorID:       uid,
		Title:          req.Title,
		Start:          start,
		End:            end,
		ParticipantIDs: req.ParticipantIDs,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete handles DELETE /v1/meeting-rooms/:room (room number).  Deleting a
// room that is already gone returns 204 as well.
func (h *MeetingRoomHandler) Delete(c echo.Context) error {
	uid, ok, err := currentUser(c)
	if !ok {
		return err
	}
	roomNo, ok := parseRoomNo(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid room number"})
	}
	if err := h.Rooms.Delete(c.Request().Context(), roomNo, uid); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Authz handles GET /v1/meeting-rooms/:room/authz where :room is the room code.
func (h *MeetingRoomHandler) Authz(c echo.Context) error {
	uid, ok, err := currentUser(c)
	if !ok {
		return err
	}
	res, err := h.Rooms.CheckAuthorization(c.Request().Context(), c.Param("room"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Detail handles GET /v1/meeting-rooms/:room (room code).
func (h *MeetingRoomHandler) Detail(c echo.Context) error {
	uid, ok, err := currentUser(c)
	if !ok {
		return err
	}
	detail, err := h.Rooms.GetRoomDetail(c.Request().Context(), c.Param("room"), uid)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

// Enter handles POST /v1/meeting-rooms/:room/enter (room code).
func (h *MeetingRoomHandler) Enter(c echo.Context) error {
	uid, ok, err := currentUser(c)
	if !ok {
		return err
	}
	var req attendanceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := h.Attendance.LogEnter(c.Request().Context(), c.Param("room"), uid, req.JoinedAt); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Leave handles POST /v1/meeting-rooms/:room/leave (room code).
func (h *MeetingRoomHandler) Leave(c echo.Context) error {
	uid, ok, err := currentUser(c)
	if !ok {
		return err
	}
	var req attendanceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := h.Attendance.LogLeave(c.Request().Context(), c.Param("room"), uid, req.JoinedAt, req.LeftAt); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
