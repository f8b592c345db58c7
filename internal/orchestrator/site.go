// File: internal/orchestrator/site.go
package orchestrator

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/visa-resched/internal/browser/selector"
)

// Element locators for the scheduling site. Each lists an accessibility
// strategy first and a structural CSS fallback after it.
var (
	usernameField = selector.MustParse([]string{"aria/Email *"}, []string{"#user_email"})
	passwordField = selector.MustParse([]string{"aria/Password"}, []string{"#user_password"})
	agreementBox  = selector.MustParse([]string{"#sign_in_form > div.radio-checkbox-group.margin-top-30 > label > div"})
	signInButton  = selector.MustParse(
		[]string{`aria/Sign In[role="button"]`},
		[]string{"#new_user > p:nth-child(9) > input"},
	)
	currentAppointment = selector.MustParse([]string{"div.card > p.consular-appt"})
	groupContinue      = selector.MustParse(
		[]string{"aria/Continue"},
		[]string{"#main > div.mainContent > form > div:nth-child(3) > div > input"},
	)
	consularSelect = selector.MustParse(
		[]string{"aria/Consular Section Appointment", `aria/[role="combobox"]`},
		[]string{"#appointments_consulate_appointment_facility_id"},
	)
	dateInput = selector.MustParse(
		[]string{"aria/Date of Appointment *"},
		[]string{"#appointments_consulate_appointment_date"},
	)
	bookableDay = selector.MustParse(
		[]string{`aria/25[role="link"]`},
		[]string{"#ui-datepicker-div > div.ui-datepicker-group.ui-datepicker-group > table > tbody > tr > td.undefined > a"},
	)
	nextMonth = selector.MustParse(
		[]string{"aria/Next", `aria/[role="generic"]`},
		[]string{"#ui-datepicker-div > div.ui-datepicker-group.ui-datepicker-group-last > div > a > span"},
	)
	timeSelect       = selector.MustParse([]string{"#appointments_consulate_appointment_time"})
	rescheduleButton = selector.MustParse([]string{"aria/Reschedule"}, []string{"#appointments_submit"})
	confirmButton    = selector.MustParse(
		[]string{"aria/Cancel"},
		[]string{"body > div.reveal-overlay > div > div > a.button.alert"},
	)
)

// timeOptionIndex selects the first real slot; index 0 is the placeholder.
const timeOptionIndex = 1

// textInputTypes receive simulated keystrokes; any other input type gets its
// value assigned directly.
var textInputTypes = map[string]bool{
	"textarea": true, "select-one": true, "text": true, "url": true, "tel": true,
	"search": true, "password": true, "number": true, "email": true,
}

// SignInURL is the login page for region.
func SignInURL(baseURL, region string) string {
	return fmt.Sprintf("%s/en-%s/niv/users/sign_in", strings.TrimRight(baseURL, "/"), region)
}

// AppointmentURL is the reschedule page of one appointment.
func AppointmentURL(baseURL, region, appointmentID string) string {
	return fmt.Sprintf("%s/en-%s/niv/schedule/%s/appointment", strings.TrimRight(baseURL, "/"), region, appointmentID)
}
