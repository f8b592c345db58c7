// internal/browser/intercept/url.go
package intercept

import (
	"fmt"
	"strings"
)

// AvailabilityURL is the listing endpoint the appointment page calls after a
// consulate is chosen. The query string is part of the exact-match key.
func AvailabilityURL(baseURL, region, appointmentID, consularID string) string {
	return fmt.Sprintf("%s/en-%s/niv/schedule/%s/appointment/days/%s.json?appointments[expedite]=false",
		strings.TrimRight(baseURL, "/"), region, appointmentID, consularID)
}
