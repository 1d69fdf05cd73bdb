package cron

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchedule(t *testing.T) {
	t.Parallel()

	cases := []struct {
		expr string
		ok   bool
	}{
		{"*/5 * * * *", true},
		{"0 9 * * 1-5", true},
		{"0,30 8-18 * * *", true},
		{"15 3 1 1,6 0", true},
		{" 0 0 * * 6 ", true},
		{"0 0 * * */7", true},
		{"", false},
		{"* * * *", false},
		{"0 * * * * *", false}, // seconds field
		{"@hourly", false},
		{"@every 5m", false},
		{"60 * * * *", false},
		{"* 24 * * *", false},
		{"* * 0 * *", false},
		{"* * * 13 *", false},
		{"* * * * 7", false},
		{"not a cron", false},
		{"TZ=Asia/Jakarta 0 9 * * *", false},
		{"CRON_TZ=UTC 0 9 * * *", false},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			t.Parallel()
			err := ValidateSchedule(tc.expr)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "schedule", ve.Field)
			assert.Equal(t, "Invalid cron expression", ve.Message)
		})
	}
}
