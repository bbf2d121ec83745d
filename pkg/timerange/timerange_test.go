// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package timerange_test

import (
	"math"
	"testing"

	"github.com/LeeDigitalWorks/tams/pkg/timerange"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(sec int64, nsec int32) *timerange.Timestamp {
	return &timerange.Timestamp{Sec: sec, Nsec: nsec}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want timerange.Timestamp
	}{
		{"0:0", timerange.Timestamp{}},
		{"10:500", timerange.Timestamp{Sec: 10, Nsec: 500}},
		{"+3:0", timerange.Timestamp{Sec: 3}},
		{"-1:0", timerange.Timestamp{Sec: -1}},
		{"-1:500000000", timerange.Timestamp{Sec: -2, Nsec: 500000000}},
		{"1694429247:40000000", timerange.Timestamp{Sec: 1694429247, Nsec: 40000000}},
		{"-0:0", timerange.Timestamp{}},
		{"9223372036854775807:999999999", timerange.Timestamp{Sec: math.MaxInt64, Nsec: 999999999}},
		{"-9223372036854775808:0", timerange.Timestamp{Sec: math.MinInt64}},
		{"-9223372036854775807:1", timerange.Timestamp{Sec: math.MinInt64, Nsec: 999999999}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := timerange.ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			back, err := timerange.ParseTimestamp(got.String())
			require.NoError(t, err)
			assert.Equal(t, got, back)
		})
	}
}

func TestParseTimestamp_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "1", "1:", ":1", "a:0", "1:1000000000", "1:-5", "--1:0", "1:0:0",
		"9223372036854775808:0", "-9223372036854775808:1", "-9223372036854775809:0"} {
		_, err := timerange.ParseTimestamp(in)
		assert.ErrorIs(t, err, timerange.ErrInvalidTimestamp, "input %q", in)
	}
}

func TestTimestamp_ToNanosec(t *testing.T) {
	t.Parallel()

	ns, err := timerange.Timestamp{Sec: -2, Nsec: 500000000}.ToNanosec()
	require.NoError(t, err)
	assert.Equal(t, int64(-1500000000), ns)

	maxTS := timerange.FromNanosec(math.MaxInt64)
	ns, err = maxTS.ToNanosec()
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), ns)

	minTS := timerange.FromNanosec(math.MinInt64)
	ns, err = minTS.ToNanosec()
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), ns)

	_, err = timerange.Timestamp{Sec: maxTS.Sec, Nsec: maxTS.Nsec + 1}.ToNanosec()
	assert.ErrorIs(t, err, timerange.ErrOverflow)

	_, err = timerange.Timestamp{Sec: minTS.Sec, Nsec: minTS.Nsec - 1}.ToNanosec()
	assert.ErrorIs(t, err, timerange.ErrOverflow)

	_, err = timerange.Timestamp{Sec: math.MaxInt64}.ToNanosec()
	assert.ErrorIs(t, err, timerange.ErrOverflow)
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want timerange.TimeRange
		str  string
	}{
		{"()", timerange.Never(), "()"},
		{"_", timerange.Eternity(), "_"},
		{"[0:0_10:0)", timerange.New(ts(0, 0), ts(10, 0), true, false), "[0:0_10:0)"},
		{"(0:0_10:0]", timerange.New(ts(0, 0), ts(10, 0), false, true), "(0:0_10:0]"},
		{"0:0_10:0", timerange.New(ts(0, 0), ts(10, 0), true, false), "[0:0_10:0)"},
		{"[5:0_", timerange.New(ts(5, 0), nil, true, false), "[5:0_"},
		{"(5:0_", timerange.New(ts(5, 0), nil, false, false), "(5:0_"},
		{"_10:0)", timerange.New(nil, ts(10, 0), false, false), "_10:0)"},
		{"(_10:0]", timerange.New(nil, ts(10, 0), false, true), "_10:0]"},
		{"[3:0]", timerange.Instant(*ts(3, 0)), "[3:0]"},
		{"3:0", timerange.Instant(*ts(3, 0)), "[3:0]"},
		{"[3:0_3:0)", timerange.Never(), "()"},
		{"[-1:500000000_0:0)", timerange.New(ts(-2, 500000000), ts(0, 0), true, false), "[-1:500000000_0:0)"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := timerange.Parse(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.Equal(t, tt.str, got.String())

			back, err := timerange.Parse(got.String())
			require.NoError(t, err)
			if diff := cmp.Diff(got, back); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "[]", "[)", "[10:0_5:0)", "[a_b)", "[0:0_1:0_2:0)", "[1:1000000000_2:0)"} {
		_, err := timerange.Parse(in)
		assert.ErrorIs(t, err, timerange.ErrInvalidTimeRange, "input %q", in)
	}
}

func TestEmptyAndEternity(t *testing.T) {
	t.Parallel()

	assert.True(t, timerange.MustParse("()").IsEmpty())
	assert.False(t, timerange.Eternity().IsEmpty())
	assert.True(t, timerange.MustParse("_").IsEternity())
	assert.True(t, timerange.Never().Equal(timerange.MustParse("(4:0_4:0]")))
}

func TestIntersectWith(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b, want string
	}{
		{"[0:0_10:0)", "[5:0_15:0)", "[5:0_10:0)"},
		{"[0:0_10:0)", "[10:0_15:0)", "()"},
		{"[0:0_10:0]", "[10:0_15:0)", "[10:0]"},
		{"[0:0_10:0)", "_", "[0:0_10:0)"},
		{"_5:0)", "[2:0_", "[2:0_5:0)"},
		{"(0:0_10:0)", "[0:0_10:0]", "(0:0_10:0)"},
		{"[0:0_10:0)", "()", "()"},
		{"[5:0_10:0)", "(6:0_", "(6:0_10:0)"},
	}

	for _, tt := range tests {
		a, b := timerange.MustParse(tt.a), timerange.MustParse(tt.b)
		assert.Equal(t, tt.want, a.IntersectWith(b).String(), "%s ∩ %s", tt.a, tt.b)
		assert.Equal(t, tt.want, b.IntersectWith(a).String(), "%s ∩ %s", tt.b, tt.a)
	}
}

func TestContainsSubrange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outer, inner string
		want         bool
	}{
		{"[5:0_10:0)", "[6:0_8:0)", true},
		{"[5:0_10:0)", "[4:0_6:0)", false},
		{"[5:0_10:0)", "[8:0_10:5)", false},
		{"[5:0_10:0)", "[8:0_10:0)", true},
		{"[5:0_10:0)", "[8:0_10:0]", false},
		{"(5:0_10:0)", "[5:0_6:0)", false},
		{"(5:0_10:0)", "(5:0_6:0)", true},
		{"_", "[0:0_1:0)", true},
		{"[0:0_", "_1:0)", false},
		{"[0:0_10:0)", "()", true},
		{"()", "[0:0_1:0)", false},
	}

	for _, tt := range tests {
		got := timerange.MustParse(tt.outer).ContainsSubrange(timerange.MustParse(tt.inner))
		assert.Equal(t, tt.want, got, "%s contains %s", tt.outer, tt.inner)
	}
}

func TestExtendToEncompass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b, want string
	}{
		{"[0:0_1:0)", "[29:0_30:0)", "[0:0_30:0)"},
		{"[0:0_1:0)", "()", "[0:0_1:0)"},
		{"()", "[2:0_3:0]", "[2:0_3:0]"},
		{"(0:0_1:0)", "[0:0_1:0]", "[0:0_1:0]"},
		{"_1:0)", "[5:0_6:0)", "_6:0)"},
		{"[0:0_", "[5:0_6:0)", "[0:0_"},
	}

	for _, tt := range tests {
		a, b := timerange.MustParse(tt.a), timerange.MustParse(tt.b)
		assert.Equal(t, tt.want, a.ExtendToEncompass(b).String(), "%s ∪ %s", tt.a, tt.b)
		assert.Equal(t, tt.want, b.ExtendToEncompass(a).String(), "%s ∪ %s", tt.b, tt.a)
	}
}

func TestTimerangeAfter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[10:0_", timerange.MustParse("[0:0_10:0)").TimerangeAfter().String())
	assert.Equal(t, "(10:0_", timerange.MustParse("[0:0_10:0]").TimerangeAfter().String())
	assert.True(t, timerange.MustParse("[0:0_").TimerangeAfter().IsEmpty())
	assert.True(t, timerange.Never().TimerangeAfter().IsEmpty())

	// Resumption cursor: what is left to delete after handling [6:0_8:0).
	toDelete := timerange.MustParse("[5:0_10:0)")
	remaining := toDelete.IntersectWith(timerange.MustParse("[6:0_8:0)").TimerangeAfter())
	assert.Equal(t, "[8:0_10:0)", remaining.String())
}

func TestClosedKeys(t *testing.T) {
	t.Parallel()

	r := timerange.MustParse("[0:0_1:0)")
	start, err := r.StartNanosec()
	require.NoError(t, err)
	end, err := r.EndNanosec()
	require.NoError(t, err)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(999999999), end)

	r = timerange.MustParse("(0:0_1:0]")
	start, err = r.StartNanosec()
	require.NoError(t, err)
	end, err = r.EndNanosec()
	require.NoError(t, err)
	assert.Equal(t, int64(1), start)
	assert.Equal(t, int64(1000000000), end)

	_, err = timerange.MustParse("_1:0)").StartNanosec()
	assert.ErrorIs(t, err, timerange.ErrUnbounded)

	maxTS := timerange.FromNanosec(math.MaxInt64)
	_, err = timerange.New(&maxTS, nil, false, false).StartNanosec()
	assert.ErrorIs(t, err, timerange.ErrOverflow)

	minTS := timerange.FromNanosec(math.MinInt64)
	_, err = timerange.New(nil, &minTS, false, false).EndNanosec()
	assert.ErrorIs(t, err, timerange.ErrOverflow)
}

func TestTextMarshaling(t *testing.T) {
	t.Parallel()

	r := timerange.MustParse("[1:0_2:0)")
	text, err := r.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "[1:0_2:0)", string(text))

	var back timerange.TimeRange
	require.NoError(t, back.UnmarshalText(text))
	assert.True(t, r.Equal(back))

	assert.Error(t, back.UnmarshalText([]byte("bogus")))
}
