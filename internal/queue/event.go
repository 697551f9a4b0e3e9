// Package queue defines the message payloads exchanged over the
// notification transports and the RabbitMQ plumbing that carries them.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/meeting-sync/internal/model"
)

// Room event types published on room/{roomNo}.
const (
	RoomCreated       = "ROOM_CREATED"
	RoomUpdated       = "ROOM_UPDATED"
	RoomDeleted       = "ROOM_DELETED"
	ParticipantJoined = "PARTICIPANT_JOINED"
	ParticipantLeft   = "PARTICIPANT_LEFT"
)

// Alarm types published on notifications/{userId}.
const (
	AlarmMeetingInvite  = "MEETING_INVITE"
	AlarmMeetingUpdate  = "MEETING_UPDATE"
	AlarmMeetingRemoved = "MEETING_REMOVED"
	AlarmMeetingDelete  = "MEETING_DELETE"
)

// Calendar refresh signals published on calendar/{userId}.
const (
	SignalEventCreated = "newEventCreated"
	SignalEventUpdated = "eventUpdated"
	SignalEventDeleted = "eventDeleted"
)

// RoomEvent is the resource-level refresh signal for a meeting room.  Every
// message carries a fresh EventID so at-least-once subscribers can drop
// duplicates.
type RoomEvent struct {
	EventID        string    `json:"event_id"`
	Type           string    `json:"type"`
	RoomNo         uint64    `json:"room_no"`
	RoomCode       string    `json:"room_code"`
	Title          string    `json:"title"`
	ScheduledStart time.Time `json:"scheduled_start"`
	ScheduledEnd   time.Time `json:"scheduled_end"`
	CalDetailNo    *uint64   `json:"cal_detail_no,omitempty"`
	ActorID        uint64    `json:"actor_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// NewRoomEvent snapshots room into a RoomEvent of the given type.
func NewRoomEvent(eventType string, room *model.MeetingRoom, actorID uint64, at time.Time) RoomEvent {
	return RoomEvent{
		EventID:        uuid.NewString(),
		Type:           eventType,
		RoomNo:         room.RoomNo,
		RoomCode:       room.RoomCode,
		Title:          room.Title,
		ScheduledStart: room.ScheduledStart.UTC(),
		ScheduledEnd:   room.ScheduledEnd.UTC(),
		CalDetailNo:    room.CalDetailNo,
		ActorID:        actorID,
		OccurredAt:     at.UTC(),
	}
}

// Alarm is a personal notification shown in a user's alarm list.
type Alarm struct {
	EventID     string    `json:"event_id"`
	UserNo      uint64    `json:"user_no"`
	SenderNo    uint64    `json:"sender_no"`
	AlarmType   string    `json:"alarm_type"`
	ReferenceNo uint64    `json:"reference_no"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewAlarm builds an alarm for userNo about the meeting room referenceNo.
func NewAlarm(alarmType string, userNo, senderNo, referenceNo uint64, content string, at time.Time) Alarm {
	return Alarm{
		EventID:     uuid.NewString(),
		UserNo:      userNo,
		SenderNo:    senderNo,
		AlarmType:   alarmType,
		ReferenceNo: referenceNo,
		Content:     content,
		CreatedAt:   at.UTC(),
	}
}

// CalendarRefresh tells a calendar screen to reload one event.
type CalendarRefresh struct {
	EventID     string `json:"event_id"`
	Signal      string `json:"signal"`
	CalDetailNo uint64 `json:"cal_detail_no"`
}

// NewCalendarRefresh builds a refresh signal for calDetailNo.
func NewCalendarRefresh(signal string, calDetailNo uint64) CalendarRefresh {
	return CalendarRefresh{EventID: uuid.NewString(), Signal: signal, CalDetailNo: calDetailNo}
}
