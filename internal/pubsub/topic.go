// Package pubsub delivers notification payloads to subscribers of a topic.
// Topics are derived from resource identity:
//
//	notifications/{userId}  personal alarms
//	room/{roomNo}           meeting room refresh signals
//	calendar/{userId}       calendar refresh signals
//
// Delivery is best effort to whoever is subscribed at publish time; there
// is no backlog or replay.
package pubsub

import (
	"context"
	"strconv"
	"strings"
)

const (
	PrefixNotifications = "notifications"
	PrefixRoom          = "room"
	PrefixCalendar      = "calendar"
)

// Publisher sends an encoded payload to every current subscriber of topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// UserTopic is the personal alarm topic of a user.
func UserTopic(userID uint64) string { return topic(PrefixNotifications, userID) }

// RoomTopic is the refresh topic of a meeting room.
func RoomTopic(roomNo uint64) string { return topic(PrefixRoom, roomNo) }

// CalendarTopic is the calendar refresh topic of a user.
func CalendarTopic(userID uint64) string { return topic(PrefixCalendar, userID) }

func topic(prefix string, id uint64) string {
	return prefix + "/" + strconv.FormatUint(id, 10)
}

// ParseTopic splits a topic into its prefix and numeric id.  ok is false
// for anything that is not one of the three known shapes.
func ParseTopic(t string) (prefix string, id uint64, ok bool) {
	prefix, rest, found := strings.Cut(t, "/")
	if !found {
		return "", 0, false
	}
	switch prefix {
	case PrefixNotifications, PrefixRoom, PrefixCalendar:
	default:
		return "", 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || id == 0 {
		return "", 0, false
	}
	return prefix, id, true
}
