package timeline

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEpochAndUnknown(t *testing.T) {
	cases := []struct {
		name  string
		input interface{}
		want  Timestamp
	}{
		{"epoch", "1900/01/01 00:00", 0},
		{"one minute", "1900/01/01 00:01", 1},
		{"nil", nil, 0},
		{"lower nan", "nan", 0},
		{"mixed nan", "NaN", 0},
		{"upper nan", "NAN", 0},
		{"empty", "", 0},
		{"float nan", math.NaN(), 0},
		{"integer", 20200615, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeLeapYear(t *testing.T) {
	jan := MustNormalize("1904/01/01 00:00")
	mar := MustNormalize("1904/03/01 00:00")
	assert.Equal(t, Timestamp(60*MinutesPerDay), mar-jan)

	// 1900 is not a leap year in the table.
	assert.Equal(t, Timestamp(59*MinutesPerDay), MustNormalize("1900/03/01 00:00"))

	// 2000 is.
	feb := MustNormalize("2000/02/28 00:00")
	mar2000 := MustNormalize("2000/03/01 00:00")
	assert.Equal(t, Timestamp(2*MinutesPerDay), mar2000-feb)
}

func TestNormalizeKnownValues(t *testing.T) {
	assert.Equal(t, Timestamp(365*MinutesPerDay), MustNormalize("1901/01/01 00:00"))
	assert.Equal(t, Timestamp(MinutesPerDay+13*60+7), MustNormalize("1900/01/02 13:07"))
	// 1900 through 1903 plus the leap year 1904.
	assert.Equal(t, Timestamp((4*365+366)*MinutesPerDay), MustNormalize("1905/01/01 00:00"))
}

func TestNormalizeMonotonic(t *testing.T) {
	ordered := []string{
		"1900/01/01 00:00",
		"1900/01/01 23:59",
		"1900/02/28 12:00",
		"1900/03/01 00:00",
		"1904/02/28 00:00",
		"1904/02/29 00:00",
		"1904/03/01 00:00",
		"1999/12/31 23:59",
		"2000/01/01 00:00",
		"2020/02/29 08:30",
		"2020/06/15 00:00",
		"2021/12/31 23:59",
		"2022/01/01 00:00",
	}
	prev := Timestamp(-1)
	for _, s := range ordered {
		ts, err := Normalize(s)
		require.NoError(t, err, s)
		assert.Greater(t, ts, prev, s)
		prev = ts
	}
}

func TestNormalizeMalformed(t *testing.T) {
	inputs := []string{
		"2020-06-15 00:00",
		"2020/06/15",
		"2020/06/15  00:00",
		"2020/6/15 00:00",
		"2020/06/15 00:00:00",
		" 2020/06/15 00:00",
		"yyyy/mm/dd hh:mm",
		"2020/13/01 00:00",
		"2020/00/01 00:00",
		"2020/06/00 00:00",
		"2020/06/15 24:00",
		"2020/06/15 12:60",
		"1899/12/31 23:59",
		"2023/01/01 00:00",
	}
	for _, s := range inputs {
		ts, err := Normalize(s)
		require.Error(t, err, s)
		assert.True(t, errors.Is(err, ErrMalformed), s)
		var perr *ParseError
		require.True(t, errors.As(err, &perr), s)
		assert.Equal(t, s, perr.Value)
		assert.Equal(t, Epoch, ts)
	}
}

func TestNormalizeIsPure(t *testing.T) {
	a := MustNormalize("2020/06/15 10:45")
	b := MustNormalize("2020/06/15 10:45")
	assert.Equal(t, a, b)
}

func TestMustNormalizePanics(t *testing.T) {
	assert.Panics(t, func() { MustNormalize("not a date") })
}

func TestTimestampString(t *testing.T) {
	for _, s := range []string{
		"1900/01/01 00:01",
		"1900/12/31 23:59",
		"1904/02/29 06:15",
		"1904/03/01 00:00",
		"2000/12/31 12:00",
		"2020/06/15 00:00",
		"2022/12/31 23:59",
	} {
		assert.Equal(t, s, MustNormalize(s).String())
	}
	assert.Equal(t, "unknown", Epoch.String())
}

func TestTimestampDays(t *testing.T) {
	assert.Equal(t, int64(1), MustNormalize("1900/01/02 23:59").Days())
	assert.Equal(t, int64(-1), Timestamp(-1).Days())
	assert.True(t, Epoch.IsUnknown())
	assert.False(t, Timestamp(1).IsUnknown())
}
