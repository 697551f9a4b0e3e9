package service

import (
	"context"
	"errors"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/meeting-sync/internal/model"
	"github.com/iliyamo/meeting-sync/internal/repository"
)

var errStore = errors.New("store unavailable")

// memDB is the shared state behind the fake stores.  fakeTx snapshots it
// before a unit of work and restores it on error, which gives the tests
// real rollback semantics.
type memDB struct {
	rooms     map[uint64]model.MeetingRoom
	nextRoom  uint64
	roles     map[uint64]map[uint64]model.Role
	joined    map[[2]uint64]time.Time
	left      map[[2]uint64]time.Time
	calendars map[uint64]uint64
	nextCal   uint64
	events    map[uint64]model.CalendarEvent
	nextEvent uint64
	calUsers  map[uint64]map[uint64]struct{}
	members   map[uint64]string

	calls map[string]int
	// failOn makes the named method return errStore.
	failOn string
	// calendarRace makes the first team calendar insert lose a race.
	calendarRace bool
	takenCodes   map[string]bool
}

func newMemDB() *memDB {
	return &memDB{
		rooms:      map[uint64]model.MeetingRoom{},
		roles:      map[uint64]map[uint64]model.Role{},
		joined:     map[[2]uint64]time.Time{},
		left:       map[[2]uint64]time.Time{},
		calendars:  map[uint64]uint64{},
		events:     map[uint64]model.CalendarEvent{},
		calUsers:   map[uint64]map[uint64]struct{}{},
		members:    map[uint64]string{},
		calls:      map[string]int{},
		takenCodes: map[string]bool{},
	}
}

func (m *memDB) hit(name string) error {
	m.calls[name]++
	if m.failOn == name {
		return errStore
	}
	return nil
}

func (m *memDB) writes() int {
	n := 0
	for name, c := range m.calls {
		switch name {
		case "CodeExists", "FindByCode", "FindByCodeTx", "FindByIDForUpdateTx", "UserIDsTx",
			"FindRole", "FindOwner", "FindOwnerTx", "ListWithNames", "FindCalNoByTeamTx", "ParticipantUserIDsTx":
			continue
		}
		n += c
	}
	return n
}

type memState struct {
	rooms     map[uint64]model.MeetingRoom
	roles     map[uint64]map[uint64]model.Role
	joined    map[[2]uint64]time.Time
	left      map[[2]uint64]time.Time
	calendars map[uint64]uint64
	events    map[uint64]model.CalendarEvent
	calUsers  map[uint64]map[uint64]struct{}
}

func (m *memDB) snapshot() memState {
	s := memState{
		rooms:     maps.Clone(m.rooms),
		roles:     map[uint64]map[uint64]model.Role{},
		joined:    maps.Clone(m.joined),
		left:      maps.Clone(m.left),
		calendars: maps.Clone(m.calendars),
		events:    maps.Clone(m.events),
		calUsers:  map[uint64]map[uint64]struct{}{},
	}
	for k, v := range m.roles {
		s.roles[k] = maps.Clone(v)
	}
	for k, v := range m.calUsers {
		s.calUsers[k] = maps.Clone(v)
	}
	return s
}

func (m *memDB) restore(s memState) {
	m.rooms, m.roles, m.joined, m.left = s.rooms, s.roles, s.joined, s.left
	m.calendars, m.events, m.calUsers = s.calendars, s.events, s.calUsers
}

// roster returns userID -> role for a room.
func (m *memDB) roster(roomNo uint64) map[uint64]model.Role {
	return maps.Clone(m.roles[roomNo])
}

func (m *memDB) calendarRoster(calDetailNo uint64) []uint64 {
	return slices.Sorted(maps.Keys(m.calUsers[calDetailNo]))
}

type fakeTx struct {
	db      *memDB
	commits int
	rolls   int
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(tx *repository.Tx) error) error {
	snap := f.db.snapshot()
	tx := repository.NewTx(nil)
	if err := fn(tx); err != nil {
		f.db.restore(snap)
		f.rolls++
		return err
	}
	f.commits++
	tx.RunAfterCommit()
	return nil
}

type fakeRooms struct{ db *memDB }

func (r fakeRooms) CodeExists(ctx context.Context, q repository.Querier, code string) (bool, error) {
	if err := r.db.hit("CodeExists"); err != nil {
		return false, err
	}
	if r.db.takenCodes[code] {
		return true, nil
	}
	for _, room := range r.db.rooms {
		if room.RoomCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r fakeRooms) InsertTx(ctx context.Context, q repository.Querier, room *model.MeetingRoom) error {
	if err := r.db.hit("InsertRoomTx"); err != nil {
		return err
	}
	r.db.nextRoom++
	room.RoomNo = r.db.nextRoom
	r.db.rooms[room.RoomNo] = *room
	return nil
}

func (r fakeRooms) FindByCode(ctx context.Context, code string) (*model.MeetingRoom, error) {
	if err := r.db.hit("FindByCode"); err != nil {
		return nil, err
	}
	return r.byCode(code)
}

func (r fakeRooms) FindByCodeTx(ctx context.Context, q repository.Querier, code string) (*model.MeetingRoom, error) {
	if err := r.db.hit("FindByCodeTx"); err != nil {
		return nil, err
	}
	return r.byCode(code)
}

func (r fakeRooms) byCode(code string) (*model.MeetingRoom, error) {
	for _, room := range r.db.rooms {
		if room.RoomCode == code {
			out := room
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r fakeRooms) FindByIDForUpdateTx(ctx context.Context, q repository.Querier, roomNo uint64) (*model.MeetingRoom, error) {
	if err := r.db.hit("FindByIDForUpdateTx"); err != nil {
		return nil, err
	}
	room, ok := r.db.rooms[roomNo]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &room, nil
}

func (r fakeRooms) UpdateScheduleTx(ctx context.Context, q repository.Querier, roomNo uint64, title string, start, end time.Time) error {
	if err := r.db.hit("UpdateScheduleTx"); err != nil {
		return err
	}
	room := r.db.rooms[roomNo]
	room.Title, room.ScheduledStart, room.ScheduledEnd = title, start, end
	r.db.rooms[roomNo] = room
	return nil
}

func (r fakeRooms) SetCalDetailNoTx(ctx context.Context, q repository.Querier, roomNo, calDetailNo uint64) error {
	if err := r.db.hit("SetCalDetailNoTx"); err != nil {
		return err
	}
	room := r.db.rooms[roomNo]
	room.CalDetailNo = &calDetailNo
	r.db.rooms[roomNo] = room
	return nil
}

func (r fakeRooms) DeleteTx(ctx context.Context, q repository.Querier, roomNo uint64) (int64, error) {
	if err := r.db.hit("DeleteRoomTx"); err != nil {
		return 0, err
	}
	if _, ok := r.db.rooms[roomNo]; !ok {
		return 0, nil
	}
	delete(r.db.rooms, roomNo)
	return 1, nil
}

type fakeParticipants struct{ db *memDB }

func (p fakeParticipants) InsertTx(ctx context.Context, q repository.Querier, roomNo uint64, role model.Role, userIDs []uint64) error {
	if len(userIDs) == 0 {
		return nil
	}
	if err := p.db.hit("InsertParticipantsTx"); err != nil {
		return err
	}
	set := p.db.roles[roomNo]
	if set == nil {
		set = map[uint64]model.Role{}
		p.db.roles[roomNo] = set
	}
	for _, id := range userIDs {
		if _, dup := set[id]; dup {
			return repository.ErrConflict
		}
		set[id] = role
	}
	return nil
}

func (p fakeParticipants) UserIDsTx(ctx context.Context, q repository.Querier, roomNo uint64) ([]uint64, error) {
	if err := p.db.hit("UserIDsTx"); err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(p.db.roles[roomNo])), nil
}

func (p fakeParticipants) DeleteUsersTx(ctx context.Context, q repository.Querier, roomNo uint64, userIDs []uint64) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	if err := p.db.hit("DeleteUsersTx"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range userIDs {
		if role, ok := p.db.roles[roomNo][id]; ok && role != model.RoleOwner {
			delete(p.db.roles[roomNo], id)
			n++
		}
	}
	return n, nil
}

func (p fakeParticipants) DeleteAllTx(ctx context.Context, q repository.Querier, roomNo uint64) (int64, error) {
	if err := p.db.hit("DeleteAllTx"); err != nil {
		return 0, err
	}
	n := int64(len(p.db.roles[roomNo]))
	delete(p.db.roles, roomNo)
	return n, nil
}

func (p fakeParticipants) FindRole(ctx context.Context, roomNo, userID uint64) (model.Role, error) {
	if err := p.db.hit("FindRole"); err != nil {
		return "", err
	}
	role, ok := p.db.roles[roomNo][userID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return role, nil
}

func (p fakeParticipants) FindOwner(ctx context.Context, roomNo uint64) (uint64, error) {
	if err := p.db.hit("FindOwner"); err != nil {
		return 0, err
	}
	return p.owner(roomNo)
}

func (p fakeParticipants) FindOwnerTx(ctx context.Context, q repository.Querier, roomNo uint64) (uint64, error) {
	if err := p.db.hit("FindOwnerTx"); err != nil {
		return 0, err
	}
	return p.owner(roomNo)
}

func (p fakeParticipants) owner(roomNo uint64) (uint64, error) {
	for id, role := range p.db.roles[roomNo] {
		if role == model.RoleOwner {
			return id, nil
		}
	}
	return 0, repository.ErrNotFound
}

func (p fakeParticipants) ListWithNames(ctx context.Context, roomNo uint64) ([]model.ParticipantDetail, error) {
	if err := p.db.hit("ListWithNames"); err != nil {
		return nil, err
	}
	var out []model.ParticipantDetail
	for _, id := range slices.Sorted(maps.Keys(p.db.roles[roomNo])) {
		d := model.ParticipantDetail{UserNo: id, Name: p.db.members[id], Role: p.db.roles[roomNo][id]}
		if t, ok := p.db.joined[[2]uint64{roomNo, id}]; ok {
			d.JoinedAt = &t
		}
		if t, ok := p.db.left[[2]uint64{roomNo, id}]; ok {
			d.LeftAt = &t
		}
		out = append(out, d)
	}
	slices.SortStableFunc(out, func(a, b model.ParticipantDetail) int {
		if a.Role == b.Role {
			return 0
		}
		if a.Role == model.RoleOwner {
			return -1
		}
		return 1
	})
	return out, nil
}

func (p fakeParticipants) UpdateJoinTimeTx(ctx context.Context, q repository.Querier, roomNo, userID uint64, joinedAt time.Time) (int64, error) {
	if err := p.db.hit("UpdateJoinTimeTx"); err != nil {
		return 0, err
	}
	if _, ok := p.db.roles[roomNo][userID]; !ok {
		return 0, nil
	}
	key := [2]uint64{roomNo, userID}
	p.db.joined[key] = joinedAt
	delete(p.db.left, key)
	return 1, nil
}

func (p fakeParticipants) UpdateOutTimeTx(ctx context.Context, q repository.Querier, roomNo, userID uint64, leftAt time.Time) (int64, error) {
	if err := p.db.hit("UpdateOutTimeTx"); err != nil {
		return 0, err
	}
	if _, ok := p.db.roles[roomNo][userID]; !ok {
		return 0, nil
	}
	p.db.left[[2]uint64{roomNo, userID}] = leftAt
	return 1, nil
}

type fakeCalendars struct{ db *memDB }

func (c fakeCalendars) FindCalNoByTeamTx(ctx context.Context, q repository.Querier, teamNo uint64) (uint64, error) {
	if err := c.db.hit("FindCalNoByTeamTx"); err != nil {
		return 0, err
	}
	calNo, ok := c.db.calendars[teamNo]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return calNo, nil
}

func (c fakeCalendars) InsertTeamCalendarTx(ctx context.Context, q repository.Querier, teamNo, ownerNo uint64) (uint64, error) {
	if err := c.db.hit("InsertTeamCalendarTx"); err != nil {
		return 0, err
	}
	c.db.nextCal++
	if c.db.calendarRace {
		// another request created the calendar between our read and insert
		c.db.calendarRace = false
		c.db.calendars[teamNo] = c.db.nextCal
		return 0, repository.ErrConflict
	}
	if _, ok := c.db.calendars[teamNo]; ok {
		return 0, repository.ErrConflict
	}
	c.db.calendars[teamNo] = c.db.nextCal
	return c.db.nextCal, nil
}

func (c fakeCalendars) InsertEventTx(ctx context.Context, q repository.Querier, ev *model.CalendarEvent) error {
	if err := c.db.hit("InsertEventTx"); err != nil {
		return err
	}
	c.db.nextEvent++
	ev.CalDetailNo = c.db.nextEvent
	c.db.events[ev.CalDetailNo] = *ev
	return nil
}

func (c fakeCalendars) UpdateEventTx(ctx context.Context, q repository.Querier, ev *model.CalendarEvent) error {
	if err := c.db.hit("UpdateEventTx"); err != nil {
		return err
	}
	cur, ok := c.db.events[ev.CalDetailNo]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Title = ev.Title
	cur.StartDate, cur.StartTime, cur.EndDate, cur.EndTime = ev.StartDate, ev.StartTime, ev.EndDate, ev.EndTime
	c.db.events[ev.CalDetailNo] = cur
	return nil
}

func (c fakeCalendars) DeleteEventTx(ctx context.Context, q repository.Querier, calDetailNo uint64) (int64, error) {
	if err := c.db.hit("DeleteEventTx"); err != nil {
		return 0, err
	}
	delete(c.db.events, calDetailNo)
	return 1, nil
}

func (c fakeCalendars) InsertParticipantsTx(ctx context.Context, q repository.Querier, calDetailNo uint64, userIDs []uint64) error {
	if len(userIDs) == 0 {
		return nil
	}
	if err := c.db.hit("InsertCalendarParticipantsTx"); err != nil {
		return err
	}
	set := c.db.calUsers[calDetailNo]
	if set == nil {
		set = map[uint64]struct{}{}
		c.db.calUsers[calDetailNo] = set
	}
	for _, id := range userIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (c fakeCalendars) ParticipantUserIDsTx(ctx context.Context, q repository.Querier, calDetailNo uint64) ([]uint64, error) {
	if err := c.db.hit("ParticipantUserIDsTx"); err != nil {
		return nil, err
	}
	return c.db.calendarRoster(calDetailNo), nil
}

func (c fakeCalendars) DeleteParticipantsTx(ctx context.Context, q repository.Querier, calDetailNo uint64, userIDs []uint64) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	if err := c.db.hit("DeleteCalendarParticipantsTx"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range userIDs {
		if _, ok := c.db.calUsers[calDetailNo][id]; ok {
			delete(c.db.calUsers[calDetailNo], id)
			n++
		}
	}
	return n, nil
}

func (c fakeCalendars) DeleteAllParticipantsTx(ctx context.Context, q repository.Querier, calDetailNo uint64) (int64, error) {
	if err := c.db.hit("DeleteAllCalendarParticipantsTx"); err != nil {
		return 0, err
	}
	n := int64(len(c.db.calUsers[calDetailNo]))
	delete(c.db.calUsers, calDetailNo)
	return n, nil
}

type published struct {
	Topic   string
	Payload any
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recordingNotifier) Publish(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{Topic: topic, Payload: payload})
}

func (r *recordingNotifier) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Topic
	}
	return out
}

func (r *recordingNotifier) reset() {
	r.mu.Lock()
	r.msgs = nil
	r.mu.Unlock()
}

var fixedNow = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	db       *memDB
	tx       *fakeTx
	notifier *recordingNotifier
	svc      *MeetingRoomService
	tracker  *AttendanceTracker
}

func newFixture() *fixture {
	db := newMemDB()
	tx := &fakeTx{db: db}
	n := &recordingNotifier{}
	rooms := fakeRooms{db: db}
	parts := fakeParticipants{db: db}
	codes := NewCodeGenerator(rooms, rand.NewPCG(1, 2))
	clock := ClockFunc(func() time.Time { return fixedNow })
	svc := NewMeetingRoomService(tx, rooms, parts, fakeCalendars{db: db}, codes, n, Options{
		BcryptCost: bcrypt.MinCost,
		Clock:      clock,
	})
	return &fixture{
		db:       db,
		tx:       tx,
		notifier: n,
		svc:      svc,
		tracker:  NewAttendanceTracker(tx, rooms, parts, n, time.UTC, clock),
	}
}
