package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Holds all external facing types and constants.

// Outcome is the real-world result of a trip occurrence. The zero
// value means the trip has not been resolved yet.
type Outcome string

const (
	OutcomeUnresolved Outcome = ""
	OutcomeOnTime     Outcome = "on_time"
	OutcomeLate       Outcome = "late"
)

// Terminal reports whether the outcome is a final value. A trip whose
// outcome is terminal is never re-evaluated.
func (o Outcome) Terminal() bool {
	return o == OutcomeOnTime || o == OutcomeLate
}

// TripKey identifies a trip occurrence: one scheduled trip on one
// service date. ServiceDate is given as YYYYMMDD.
type TripKey struct {
	TripID      string
	ServiceDate string
}

func (k TripKey) String() string {
	return k.TripID + "@" + k.ServiceDate
}

type Trip struct {
	Key      TripKey
	RouteID  string
	Headsign string
	Outcome  Outcome
}

// StopTime is one scheduled stop visit of a trip occurrence. Arrival
// is a GTFS style HHMMSS string. Hours may exceed 24 to represent
// post-midnight service on the trip's service date.
type StopTime struct {
	TripID       string
	ServiceDate  string
	StopSequence uint32
	Arrival      string
}

// ArrivalOffset returns the arrival as an offset from the service
// date's midnight. Offsets of 24h and more are legitimate.
func (st StopTime) ArrivalOffset() time.Duration {
	d, _ := ParseHHMMSS(st.Arrival)
	return d
}

type Prediction struct {
	UserID      int64
	TripID      string
	ServiceDate string
	Predicted   Outcome
	CreatedAt   time.Time
}

type User struct {
	ID    int64
	Name  string
	Score int64
}

// ParseHHMMSS converts an HHMMSS string to an offset from midnight.
func ParseHHMMSS(s string) (time.Duration, error) {
	if len(s) != 6 {
		return 0, fmt.Errorf("invalid HHMMSS string '%s'", s)
	}
	h, errH := strconv.Atoi(s[0:2])
	m, errM := strconv.Atoi(s[2:4])
	sec, errS := strconv.Atoi(s[4:6])
	if errH != nil || errM != nil || errS != nil {
		return 0, fmt.Errorf("invalid HHMMSS string '%s'", s)
	}
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("invalid HHMMSS string '%s'", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

// ParseArrival normalizes an HH:MM:SS time-of-day string (hours up to
// 99 allowed) into HHMMSS form.
func ParseArrival(s string) (string, error) {
	split := strings.Split(s, ":")
	if len(split) != 3 {
		return "", fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		j, err := strconv.Atoi(str)
		if err != nil {
			return "", fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[0] < 0 || hms[0] > 99 {
		return "", fmt.Errorf("invalid hour in '%s'", s)
	}
	if hms[1] < 0 || hms[1] > 59 {
		return "", fmt.Errorf("invalid minute in '%s'", s)
	}
	if hms[2] < 0 || hms[2] > 59 {
		return "", fmt.Errorf("invalid second in '%s'", s)
	}

	return fmt.Sprintf("%02d%02d%02d", hms[0], hms[1], hms[2]), nil
}
