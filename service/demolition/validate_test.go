package demolition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseArea(t *testing.T) {
	for _, test := range []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"45", 45, true},
		{" 12.5 ", 12.5, true},
		{"500", 500, true},
		{"-5", 0, false},
		{"0", 0, false},
		{"0.5", 0, false},
		{"999999", 0, false},
		{"", 0, false},
		{"NaN", 0, false},
		{"열평", 0, false},
	} {
		got, err := ParseArea(test.raw)
		if !test.ok {
			assert.Error(t, err, test.raw)
			continue
		}
		assert.NoError(t, err, test.raw)
		assert.Equal(t, test.want, got, test.raw)
	}
}

func TestCheckAddress(t *testing.T) {
	assert.NoError(t, CheckAddress("서울시 강남구 테헤란로 1"))
	assert.Error(t, CheckAddress("서"))
	assert.Error(t, CheckAddress("   "))
	assert.Error(t, CheckAddress("<script>alert(1)</script>"))
	assert.Error(t, CheckAddress("a'; DROP TABLE x"))

	long := make([]rune, MaxAddressLen+1)
	for i := range long {
		long[i] = '가'
	}
	assert.Error(t, CheckAddress(string(long)))
	assert.NoError(t, CheckAddress(string(long[:MaxAddressLen])))
}

func TestParseDate(t *testing.T) {
	now := time.Date(2025, time.March, 15, 18, 30, 0, 0, time.UTC)

	_, err := ParseDate("2025-03-15", now)
	assert.NoError(t, err, "today is allowed")

	_, err = ParseDate("2025-03-14", now)
	assert.Error(t, err)

	_, err = ParseDate("2026-03-15", now)
	assert.NoError(t, err)

	_, err = ParseDate("2026-03-16", now)
	assert.Error(t, err)

	_, err = ParseDate("15/03/2025", now)
	assert.Error(t, err)
}

func TestCheckPhone(t *testing.T) {
	assert.NoError(t, CheckPhone("010-1234-5678"))
	assert.NoError(t, CheckPhone("01012345678"))
	assert.NoError(t, CheckPhone("011-123-4567"))
	assert.Error(t, CheckPhone("012-1234-5678"))
	assert.Error(t, CheckPhone("010-12-5678"))
}

func TestFormatThousands(t *testing.T) {
	assert.Equal(t, "0", formatThousands(0))
	assert.Equal(t, "150,000", formatThousands(150000))
	assert.Equal(t, "6,750,000", formatThousands(6750000))
	assert.Equal(t, "-1,000", formatThousands(-1000))
}
