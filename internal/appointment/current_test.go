// internal/appointment/current_test.go
package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrentAppointment(t *testing.T) {
	t.Run("MonthTable", func(t *testing.T) {
		d, err := ParseCurrentAppointment("5 January, 2025")
		require.NoError(t, err)
		assert.Equal(t, MustDate("2025-01-05"), d)
	})

	t.Run("EmbeddedInConfirmationText", func(t *testing.T) {
		d, err := ParseCurrentAppointment("Consular Appointment: 15 March, 2026, 08:15 Bogota local time at Bogota")
		require.NoError(t, err)
		assert.Equal(t, MustDate("2026-03-15"), d)
	})

	cases := map[string]string{
		"NoDate":         "No appointment scheduled",
		"UnknownMonth":   "15 Marzo, 2026",
		"LowercaseMonth": "15 march, 2026",
		"DayOutOfRange":  "31 April, 2026",
		"MissingComma":   "15 March 2026",
		"EmptyText":      "",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCurrentAppointment(in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, in, ve.Input)
		})
	}
}

func TestEffectiveThreshold(t *testing.T) {
	t.Run("LimitIsEarlier", func(t *testing.T) {
		current, err := ParseCurrentAppointment("15 March, 2026")
		require.NoError(t, err)
		assert.Equal(t, MustDate("2025-12-01"), EffectiveThreshold(MustDate("2025-12-01"), current))
	})

	t.Run("CurrentAppointmentIsEarlier", func(t *testing.T) {
		assert.Equal(t, MustDate("2026-01-10"), EffectiveThreshold(MustDate("2026-06-01"), MustDate("2026-01-10")))
	})
}
