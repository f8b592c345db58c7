// internal/appointment/appointment.go
package appointment

import (
	"errors"
	"fmt"
)

// Context is the immutable per-run input to a reschedule attempt.
type Context struct {
	// RunID identifies the run in logs and timings. It is assigned by the caller.
	RunID uint64
	// Limit is the latest date the caller is willing to accept.
	Limit         Date
	Username      string
	Password      string
	AppointmentID string
	ConsularID    string
	Region        string
	// Group is set when the appointment covers more than one applicant.
	Group bool
	// NotifyAddress is the optional recipient of found-date notifications.
	NotifyAddress string
}

// Validate checks that every field needed to drive the site is present.
func (c Context) Validate() error {
	var errs []error
	if c.Limit.IsZero() {
		errs = append(errs, errors.New("limit date is required"))
	}
	for name, v := range map[string]string{
		"username":       c.Username,
		"password":       c.Password,
		"appointment id": c.AppointmentID,
		"consular id":    c.ConsularID,
		"region":         c.Region,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	return errors.Join(errs...)
}

// AvailableDate is one entry of the availability listing.
type AvailableDate struct {
	Date        Date `json:"date"`
	BusinessDay bool `json:"business_day"`
}

// Snapshot is the captured availability listing for a run.
type Snapshot []AvailableDate

// Earliest returns the chronologically first date in s.
func (s Snapshot) Earliest() (Date, bool) {
	if len(s) == 0 {
		return Date{}, false
	}
	earliest := s[0].Date
	for _, d := range s[1:] {
		if d.Date.Before(earliest) {
			earliest = d.Date
		}
	}
	return earliest, true
}
