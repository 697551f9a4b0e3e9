package model

// CalendarEvent is a row of `tb_calendar_detail`.  It belongs to the team
// calendar (`tb_calendar`, one per team) and its invitees are listed in
// `tb_calendar_participant`; the owner is implicit through RegUserNo.
// Dates and times are kept as the strings the calendar screens display
// ("2006-01-02" and "15:04:05") so that a mirrored event renders exactly
// like its room.
type CalendarEvent struct {
    CalDetailNo uint64 // tb_calendar_detail.cal_detail_no
    CalNo       uint64 // tb_calendar_detail.cal_no
    Title       string // tb_calendar_detail.title
    Contents    string // tb_calendar_detail.contents
    StartDate   string // tb_calendar_detail.start_date
    StartTime   string // tb_calendar_detail.start_time
    EndDate     string // tb_calendar_detail.end_date
    EndTime     string // tb_calendar_detail.end_time
    RegUserNo   uint64 // tb_calendar_detail.reg_user_no (event owner)
}
