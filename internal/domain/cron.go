package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ScheduleSpec is a single daily trigger at a wall-clock time in a zone.
type ScheduleSpec struct {
	TimeOfDay string // "HH:MM"
	Timezone  string // IANA name, empty means UTC
}

// Clock parses TimeOfDay.
func (s ScheduleSpec) Clock() (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s.TimeOfDay), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time of day %q is not HH:MM", ErrInvalidSchedule, s.TimeOfDay)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour in %q", ErrInvalidSchedule, s.TimeOfDay)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute in %q", ErrInvalidSchedule, s.TimeOfDay)
	}
	return hour, minute, nil
}

// Location loads the configured zone.
func (s ScheduleSpec) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSchedule, s.Timezone, err)
	}
	return loc, nil
}

// CronExpression renders the spec as a five-field expression pinned to its zone.
func (s ScheduleSpec) CronExpression() (string, error) {
	hour, minute, err := s.Clock()
	if err != nil {
		return "", err
	}
	loc, err := s.Location()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", loc.String(), minute, hour), nil
}

func (s ScheduleSpec) String() string {
	zone := s.Timezone
	if zone == "" {
		zone = "UTC"
	}
	return s.TimeOfDay + " " + zone
}

// CronEntry represents a registered cron job.
type CronEntry struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Schedule  ScheduleSpec `json:"schedule"`
	LastRun   time.Time    `json:"last_run"`
	NextRun   time.Time    `json:"next_run"`
	Running   bool         `json:"running"`
	LastError string       `json:"last_error,omitempty"`
}
