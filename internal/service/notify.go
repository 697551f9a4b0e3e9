package service

import (
	"fmt"
	"time"

	"github.com/iliyamo/meeting-sync/internal/model"
	"github.com/iliyamo/meeting-sync/internal/pubsub"
	"github.com/iliyamo/meeting-sync/internal/queue"
)

// notification is one message destined for one topic.
type notification struct {
	Topic   string
	Payload any
}

// batch is the ordered set of notifications produced by a single committed
// operation.  The room topic always comes first.
type batch []notification

func (b *batch) add(topic string, payload any) {
	*b = append(*b, notification{Topic: topic, Payload: payload})
}

func (b *batch) alarms(alarmType string, users []uint64, sender uint64, room *model.MeetingRoom, content string, at time.Time) {
	for _, u := range users {
		if u == sender {
			continue
		}
		b.add(pubsub.UserTopic(u), queue.NewAlarm(alarmType, u, sender, room.RoomNo, content, at))
	}
}

func (b *batch) calendar(signal string, users []uint64, calDetailNo uint64) {
	for _, u := range users {
		b.add(pubsub.CalendarTopic(u), queue.NewCalendarRefresh(signal, calDetailNo))
	}
}

// topics lists the destination of every notification in order.
func (b batch) topics() []string {
	out := make([]string, len(b))
	for i, n := range b {
		out[i] = n.Topic
	}
	return out
}

func publishBatch(n Notifier, b batch) {
	for _, msg := range b {
		n.Publish(msg.Topic, msg.Payload)
	}
}

func (s *MeetingRoomService) publish(b batch) { publishBatch(s.notifier, b) }

// roomCreatedNotifications announces a new room on its topic, invites every
// invitee and, for a mirrored room, refreshes the calendars of the owner
// and invitees.
func roomCreatedNotifications(room *model.MeetingRoom, owner uint64, invitees []uint64, at time.Time) batch {
	var b batch
	b.add(pubsub.RoomTopic(room.RoomNo), queue.NewRoomEvent(queue.RoomCreated, room, owner, at))
	b.alarms(queue.AlarmMeetingInvite, invitees, owner, room,
		fmt.Sprintf("You have been invited to the meeting %q", room.Title), at)
	if room.HasMirror() {
		b.calendar(queue.SignalEventCreated, append([]uint64{owner}, invitees...), *room.CalDetailNo)
	}
	return b
}

// roomUpdatedNotifications covers an edit.  added invitees get an invite,
// retained members an update and removed ones a removal notice.  Calendar
// refreshes mirror the same split with the owner counted as retained.
func roomUpdatedNotifications(room *model.MeetingRoom, editor, owner uint64, added, retained, removed []uint64, at time.Time) batch {
	var b batch
	b.add(pubsub.RoomTopic(room.RoomNo), queue.NewRoomEvent(queue.RoomUpdated, room, editor, at))
	b.alarms(queue.AlarmMeetingInvite, added, editor, room,
		fmt.Sprintf("You have been invited to the meeting %q", room.Title), at)
	b.alarms(queue.AlarmMeetingUpdate, append([]uint64{owner}, retained...), editor, room,
		fmt.Sprintf("The meeting %q has been updated", room.Title), at)
	b.alarms(queue.AlarmMeetingRemoved, removed, editor, room,
		fmt.Sprintf("You have been removed from the meeting %q", room.Title), at)
	if room.HasMirror() {
		cal := *room.CalDetailNo
		b.calendar(queue.SignalEventCreated, added, cal)
		b.calendar(queue.SignalEventUpdated, append([]uint64{owner}, retained...), cal)
		b.calendar(queue.SignalEventDeleted, removed, cal)
	}
	return b
}

// roomDeletedNotifications tells the room topic and every former member
// that the room is gone.
func roomDeletedNotifications(room *model.MeetingRoom, editor, owner uint64, invitees []uint64, at time.Time) batch {
	var b batch
	b.add(pubsub.RoomTopic(room.RoomNo), queue.NewRoomEvent(queue.RoomDeleted, room, editor, at))
	members := append([]uint64{owner}, invitees...)
	b.alarms(queue.AlarmMeetingDelete, members, editor, room,
		fmt.Sprintf("The meeting %q has been cancelled", room.Title), at)
	if room.HasMirror() {
		b.calendar(queue.SignalEventDeleted, members, *room.CalDetailNo)
	}
	return b
}

// attendanceNotifications announces a join or leave on the room topic.
func attendanceNotifications(eventType string, room *model.MeetingRoom, userID uint64, at time.Time) batch {
	var b batch
	b.add(pubsub.RoomTopic(room.RoomNo), queue.NewRoomEvent(eventType, room, userID, at))
	return b
}
