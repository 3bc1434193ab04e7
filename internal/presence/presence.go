// Package presence derives online/watching/offline status from the age of a
// location record. Nothing here is stored; every observer recomputes it from
// the same record and clock and gets the same answer.
package presence

import (
	"fmt"
	"time"

	"locshare/backend/internal/models"
)

// Status is the derived presence classification.
type Status string

const (
	StatusOnline   Status = "online"
	StatusWatching Status = "watching"
	StatusOffline  Status = "offline"
)

const (
	// JustNow is the age below which a fix is described as the current location.
	JustNow = 10 * time.Second
	// OnlineWindow is the age up to which a user is online.
	OnlineWindow = 60 * time.Second
	// OfflineThreshold is the age beyond which a user is offline. Between
	// OnlineWindow and here the user stays online with a dwell description.
	OfflineThreshold = 70 * time.Second
)

const (
	DescCannotLocate = "Cannot locate the user"
	DescCurrent      = "Current location"
)

// Presence is the result of Classify.
type Presence struct {
	Status      Status `json:"status"`
	Description string `json:"description"`
}

// Classify derives presence for rec at now. watching is the owner's optional
// explicit watch-state flag; it only upgrades an online result.
func Classify(rec *models.LocationRecord, now time.Time, watching *bool) Presence {
	if rec == nil || rec.Timestamp.IsZero() || !rec.HasFix() {
		return Presence{Status: StatusOffline, Description: DescCannotLocate}
	}

	age := now.Sub(rec.Timestamp)
	if age < 0 {
		// Clock skew between writer and observer.
		age = 0
	}

	if age > OfflineThreshold {
		return Presence{
			Status:      StatusOffline,
			Description: fmt.Sprintf("Last seen %s ago", FormatDuration(age)),
		}
	}

	status := StatusOnline
	if watching != nil && *watching {
		status = StatusWatching
	}
	if age <= JustNow {
		return Presence{Status: status, Description: DescCurrent}
	}

	dwell := time.Duration(rec.Duration)*time.Second + age
	return Presence{Status: status, Description: fmt.Sprintf("Here for %s", FormatDuration(dwell))}
}

// FormatDuration renders d in the coarsest non-zero unit among hours, minutes
// and seconds, truncating rather than rounding: 119s is "1 minute".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= time.Hour:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
