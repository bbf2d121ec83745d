// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package timerange implements timestamps and intervals on the nanosecond
// media timeline, including the canonical bracket notation used by segment
// and delete-request documents:
//
//	[0:0_10:0)   inclusive start, exclusive end
//	(5:0_        exclusive start, unbounded end
//	_10:0]       unbounded start, inclusive end
//	[3:0]        instant
//	_            eternity
//	()           empty
package timerange

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrInvalidTimeRange = errors.New("invalid timerange")
	ErrUnbounded        = errors.New("timerange bound is unbounded")
)

// TimeRange is a possibly unbounded, possibly exclusive interval. A nil
// Start or End means the range extends to -inf or +inf respectively; the
// inclusivity flag of an unbounded side is always false.
type TimeRange struct {
	Start         *Timestamp
	End           *Timestamp
	IncludesStart bool
	IncludesEnd   bool
}

// Eternity returns the range unbounded on both sides.
func Eternity() TimeRange {
	return TimeRange{}
}

// Never returns the canonical empty range.
func Never() TimeRange {
	return TimeRange{Start: &Timestamp{}, End: &Timestamp{}}
}

// Instant returns the range containing only t.
func Instant(t Timestamp) TimeRange {
	return New(&t, &t, true, true)
}

// New builds a normalized range. Bounds are copied.
func New(start, end *Timestamp, includesStart, includesEnd bool) TimeRange {
	r := TimeRange{IncludesStart: includesStart, IncludesEnd: includesEnd}
	if start != nil {
		s := *start
		r.Start = &s
	}
	if end != nil {
		e := *end
		r.End = &e
	}
	return r.normalize()
}

func (r TimeRange) normalize() TimeRange {
	if r.Start == nil {
		r.IncludesStart = false
	}
	if r.End == nil {
		r.IncludesEnd = false
	}
	if r.IsEmpty() {
		return Never()
	}
	return r
}

// MustParse is like Parse but panics on error.
func MustParse(s string) TimeRange {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Parse reads the canonical bracket notation. Brackets are optional; a
// missing opening bracket means inclusive start, a missing closing bracket
// means exclusive end (or inclusive for an instant).
func Parse(s string) (TimeRange, error) {
	body := strings.TrimSpace(s)
	switch body {
	case "()":
		return Never(), nil
	case "_":
		return Eternity(), nil
	case "":
		return TimeRange{}, fmt.Errorf("%w: empty string", ErrInvalidTimeRange)
	}

	var open, closing byte
	if body[0] == '[' || body[0] == '(' {
		open = body[0]
		body = body[1:]
	}
	if n := len(body); n > 0 && (body[n-1] == ']' || body[n-1] == ')') {
		closing = body[n-1]
		body = body[:n-1]
	}

	startStr, endStr, hasSep := strings.Cut(body, "_")
	if !hasSep {
		if body == "" {
			return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimeRange, s)
		}
		t, err := ParseTimestamp(body)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: %q: %w", ErrInvalidTimeRange, s, err)
		}
		return New(&t, &t, open != '(', closing != ')'), nil
	}

	var start, end *Timestamp
	if startStr != "" {
		t, err := ParseTimestamp(startStr)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: %q: %w", ErrInvalidTimeRange, s, err)
		}
		start = &t
	}
	if endStr != "" {
		t, err := ParseTimestamp(endStr)
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: %q: %w", ErrInvalidTimeRange, s, err)
		}
		end = &t
	}
	if start != nil && end != nil && start.Compare(*end) > 0 {
		return TimeRange{}, fmt.Errorf("%w: start after end in %q", ErrInvalidTimeRange, s)
	}

	return New(start, end, open != '(', closing == ']'), nil
}

// String renders the canonical form; Parse(r.String()) is equal to r.
func (r TimeRange) String() string {
	switch {
	case r.IsEmpty():
		return "()"
	case r.IsEternity():
		return "_"
	case r.IsInstant():
		return "[" + r.Start.String() + "]"
	}

	var b strings.Builder
	if r.Start != nil {
		if r.IncludesStart {
			b.WriteByte('[')
		} else {
			b.WriteByte('(')
		}
		b.WriteString(r.Start.String())
	}
	b.WriteByte('_')
	if r.End != nil {
		b.WriteString(r.End.String())
		if r.IncludesEnd {
			b.WriteByte(']')
		} else {
			b.WriteByte(')')
		}
	}
	return b.String()
}

// IsEmpty reports whether the range contains no instants.
func (r TimeRange) IsEmpty() bool {
	if r.Start == nil || r.End == nil {
		return false
	}
	c := r.Start.Compare(*r.End)
	return c > 0 || (c == 0 && !(r.IncludesStart && r.IncludesEnd))
}

func (r TimeRange) IsEternity() bool {
	return r.Start == nil && r.End == nil
}

func (r TimeRange) IsInstant() bool {
	return r.Start != nil && r.End != nil && r.Start.Compare(*r.End) == 0 &&
		r.IncludesStart && r.IncludesEnd
}

// Bounded reports whether both ends are finite.
func (r TimeRange) Bounded() bool {
	return r.Start != nil && r.End != nil
}

// Equal compares ranges by value; all empty ranges are equal.
func (r TimeRange) Equal(o TimeRange) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return r.IsEmpty() && o.IsEmpty()
	}
	return boundEqual(r.Start, o.Start) && boundEqual(r.End, o.End) &&
		r.IncludesStart == o.IncludesStart && r.IncludesEnd == o.IncludesEnd
}

func boundEqual(a, b *Timestamp) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// IntersectWith returns the tightest range contained in both r and o.
func (r TimeRange) IntersectWith(o TimeRange) TimeRange {
	if r.IsEmpty() || o.IsEmpty() {
		return Never()
	}

	var res TimeRange
	switch {
	case r.Start == nil:
		res.Start, res.IncludesStart = o.Start, o.IncludesStart
	case o.Start == nil:
		res.Start, res.IncludesStart = r.Start, r.IncludesStart
	default:
		switch c := r.Start.Compare(*o.Start); {
		case c > 0:
			res.Start, res.IncludesStart = r.Start, r.IncludesStart
		case c < 0:
			res.Start, res.IncludesStart = o.Start, o.IncludesStart
		default:
			res.Start, res.IncludesStart = r.Start, r.IncludesStart && o.IncludesStart
		}
	}

	switch {
	case r.End == nil:
		res.End, res.IncludesEnd = o.End, o.IncludesEnd
	case o.End == nil:
		res.End, res.IncludesEnd = r.End, r.IncludesEnd
	default:
		switch c := r.End.Compare(*o.End); {
		case c < 0:
			res.End, res.IncludesEnd = r.End, r.IncludesEnd
		case c > 0:
			res.End, res.IncludesEnd = o.End, o.IncludesEnd
		default:
			res.End, res.IncludesEnd = r.End, r.IncludesEnd && o.IncludesEnd
		}
	}

	return New(res.Start, res.End, res.IncludesStart, res.IncludesEnd)
}

// ContainsSubrange reports whether o lies entirely within r.
func (r TimeRange) ContainsSubrange(o TimeRange) bool {
	if o.IsEmpty() {
		return true
	}
	if r.IsEmpty() {
		return false
	}

	if r.Start != nil {
		if o.Start == nil {
			return false
		}
		c := o.Start.Compare(*r.Start)
		if c < 0 || (c == 0 && o.IncludesStart && !r.IncludesStart) {
			return false
		}
	}
	if r.End != nil {
		if o.End == nil {
			return false
		}
		c := o.End.Compare(*r.End)
		if c > 0 || (c == 0 && o.IncludesEnd && !r.IncludesEnd) {
			return false
		}
	}
	return true
}

// ExtendToEncompass returns the smallest range containing both r and o.
// Any gap between disjoint ranges is included.
func (r TimeRange) ExtendToEncompass(o TimeRange) TimeRange {
	if r.IsEmpty() {
		return New(o.Start, o.End, o.IncludesStart, o.IncludesEnd)
	}
	if o.IsEmpty() {
		return New(r.Start, r.End, r.IncludesStart, r.IncludesEnd)
	}

	var res TimeRange
	if r.Start != nil && o.Start != nil {
		switch c := r.Start.Compare(*o.Start); {
		case c < 0:
			res.Start, res.IncludesStart = r.Start, r.IncludesStart
		case c > 0:
			res.Start, res.IncludesStart = o.Start, o.IncludesStart
		default:
			res.Start, res.IncludesStart = r.Start, r.IncludesStart || o.IncludesStart
		}
	}
	if r.End != nil && o.End != nil {
		switch c := r.End.Compare(*o.End); {
		case c > 0:
			res.End, res.IncludesEnd = r.End, r.IncludesEnd
		case c < 0:
			res.End, res.IncludesEnd = o.End, o.IncludesEnd
		default:
			res.End, res.IncludesEnd = r.End, r.IncludesEnd || o.IncludesEnd
		}
	}
	return New(res.Start, res.End, res.IncludesStart, res.IncludesEnd)
}

// TimerangeAfter returns everything strictly after r, out to +inf. It is
// used as the resumption cursor once a segment ending at r.End is handled.
func (r TimeRange) TimerangeAfter() TimeRange {
	if r.IsEmpty() || r.End == nil {
		return Never()
	}
	return New(r.End, nil, !r.IncludesEnd, false)
}

// StartNanosec returns the start as a closed integer key: exclusive starts
// are moved forward by one nanosecond.
func (r TimeRange) StartNanosec() (int64, error) {
	if r.Start == nil {
		return 0, ErrUnbounded
	}
	ns, err := r.Start.ToNanosec()
	if err != nil {
		return 0, err
	}
	if r.IncludesStart {
		return ns, nil
	}
	if ns == math.MaxInt64 {
		return 0, fmt.Errorf("%w: exclusive start %s", ErrOverflow, r.Start)
	}
	return ns + 1, nil
}

// EndNanosec returns the end as a closed integer key: exclusive ends are
// moved back by one nanosecond.
func (r TimeRange) EndNanosec() (int64, error) {
	if r.End == nil {
		return 0, ErrUnbounded
	}
	ns, err := r.End.ToNanosec()
	if err != nil {
		return 0, err
	}
	if r.IncludesEnd {
		return ns, nil
	}
	if ns == math.MinInt64 {
		return 0, fmt.Errorf("%w: exclusive end %s", ErrOverflow, r.End)
	}
	return ns - 1, nil
}

func (r TimeRange) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *TimeRange) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
