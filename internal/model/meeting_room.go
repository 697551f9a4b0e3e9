package model

import "time"

// MeetingRoom represents a scheduled video meeting as stored in the
// `tb_meeting_room` table.  A room optionally belongs to a team; when it
// does, its schedule is mirrored into the team calendar and the id of the
// mirrored event is kept in CalDetailNo.
//
// Fields:
//  RoomNo           – primary key identifier.
//  RoomCode         – short public code used to join the meeting (unique).
//  TeamNo           – owning team, nil for ad-hoc rooms.
//  Title            – display title, never blank.
//  ScheduledStart   – planned start (UTC).
//  ScheduledEnd     – planned end (UTC), always after ScheduledStart.
//  CalDetailNo      – back-link to the mirrored calendar event (nullable).
//  IsPrivate        – "Y" when a password is required to join, otherwise "N".
//  RoomPasswordHash – bcrypt hash of the room password (nullable).
//  CreatedAt        – creation timestamp.
//  UpdatedAt        – last update timestamp.
type MeetingRoom struct {
    RoomNo           uint64     // tb_meeting_room.room_no
    RoomCode         string     // tb_meeting_room.room_code
    TeamNo           *uint64    // tb_meeting_room.team_no (nullable)
    Title            string     // tb_meeting_room.title
    ScheduledStart   time.Time  // tb_meeting_room.scheduled_time
    ScheduledEnd     time.Time  // tb_meeting_room.scheduled_end_time
    CalDetailNo      *uint64    // tb_meeting_room.cal_detail_no (nullable)
    IsPrivate        string     // tb_meeting_room.is_private
    RoomPasswordHash *string    // tb_meeting_room.room_password_hash (nullable)
    CreatedAt        time.Time  // tb_meeting_room.create_date
    UpdatedAt        time.Time  // tb_meeting_room.update_date
}

// HasMirror reports whether the room is linked to a calendar event.
func (r *MeetingRoom) HasMirror() bool { return r != nil && r.CalDetailNo != nil }

// AuthzResult is the answer to "may this user join the room".  It is
// derived from the participant table and never persisted.  Role is empty
// and Authorized false when the user has no participant row.
type AuthzResult struct {
    Title      string `json:"title"`
    Role       Role   `json:"role,omitempty"`
    Authorized bool   `json:"authorized"`
}

// RoomDetail is the read model returned to participants of a room.
type RoomDetail struct {
    RoomNo         uint64              `json:"room_no"`
    RoomCode       string              `json:"room_code"`
    TeamNo         *uint64             `json:"team_no,omitempty"`
    Title          string              `json:"title"`
    ScheduledStart time.Time           `json:"scheduled_start"`
    ScheduledEnd   time.Time           `json:"scheduled_end"`
    CalDetailNo    *uint64             `json:"cal_detail_no,omitempty"`
    IsPrivate      bool                `json:"is_private"`
    CreatorUserNo  uint64              `json:"creator_user_no"`
    IsCreator      bool                `json:"is_creator"`
    Participants   []ParticipantDetail `json:"participants"`
}
