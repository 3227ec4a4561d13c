package parse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"copier-fleet-backend/internal/model"
)

func TestParsePeriod(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  model.Period
		expectErr bool
	}{
		{name: "dash", raw: "2024-03", expected: model.Period{Year: 2024, Month: 3}},
		{name: "slash single digit", raw: "2024/3", expected: model.Period{Year: 2024, Month: 3}},
		{name: "dot with spaces", raw: " 2023 . 12 ", expected: model.Period{Year: 2023, Month: 12}},
		{name: "month out of range", raw: "2024-13", expectErr: true},
		{name: "month zero", raw: "2024-00", expectErr: true},
		{name: "garbage", raw: "March", expectErr: true},
		{name: "empty", raw: "", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePeriod(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, p)
		})
	}
}

func TestParsePeriodParts(t *testing.T) {
	p, err := ParsePeriodParts("2024", "7")
	assert.NoError(t, err)
	assert.Equal(t, model.Period{Year: 2024, Month: 7}, p)

	_, err = ParsePeriodParts("2024", "x")
	assert.Error(t, err)
	_, err = ParsePeriodParts("", "1")
	assert.Error(t, err)
}

func TestParseOrderDate(t *testing.T) {
	loc := time.FixedZone("SAST", 2*60*60)

	testCases := []struct {
		raw      string
		expected time.Time
	}{
		{"2024-02-29", time.Date(2024, 2, 29, 0, 0, 0, 0, loc)},
		{"2024/02/01", time.Date(2024, 2, 1, 0, 0, 0, 0, loc)},
		{"05/03/2024", time.Date(2024, 3, 5, 0, 0, 0, 0, loc)},
		{"5/3/2024", time.Date(2024, 3, 5, 0, 0, 0, 0, loc)},
	}
	for _, tc := range testCases {
		got, err := ParseOrderDate(tc.raw, loc)
		assert.NoError(t, err, tc.raw)
		assert.True(t, tc.expected.Equal(got), "%s parsed as %s", tc.raw, got)
	}

	_, err := ParseOrderDate("yesterday", loc)
	assert.Error(t, err)
	_, err = ParseOrderDate("  ", nil)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "A6EU021000123", NormalizeSerial(" a6eu 0210 00123 "))
	assert.Equal(t, "TN-421K", NormalizeCode(" tn-421k"))
	assert.Equal(t, "BLACK TONER", NormalizeCode("Black   toner "))
}
