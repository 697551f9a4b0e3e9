package model

import "time"

// Role is the part a user plays in a meeting room.  It is carried as data
// on every participant row and is never inferred from insertion order.
type Role string

const (
    RoleOwner   Role = "OWNER"
    RoleInvitee Role = "INVITEE"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r == RoleOwner || r == RoleInvitee }

// ParticipantDetail is a row of `tb_meeting_participant` enriched with the
// member name, as shown on the room detail screen.  Every room has exactly
// one OWNER row.  JoinedAt and LeftAt hold the latest attendance session
// only.
type ParticipantDetail struct {
    UserNo   uint64     `json:"user_no"`
    Name     string     `json:"name"`
    Role     Role       `json:"role"`
    JoinedAt *time.Time `json:"joined_at,omitempty"`
    LeftAt   *time.Time `json:"left_at,omitempty"`
}
