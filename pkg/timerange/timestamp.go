// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package timerange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const nanosPerSecond = 1_000_000_000

var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrOverflow         = errors.New("timestamp overflows int64 nanoseconds")
)

// Timestamp is a point on the media timeline with nanosecond resolution.
// It is kept normalized so that 0 <= Nsec < 1e9; the represented value is
// Sec*1e9 + Nsec, which means -1.5s is stored as {Sec: -2, Nsec: 500000000}.
type Timestamp struct {
	Sec  int64
	Nsec int32
}

// FromNanosec converts a nanosecond count into a normalized Timestamp.
func FromNanosec(ns int64) Timestamp {
	sec := ns / nanosPerSecond
	nsec := ns % nanosPerSecond
	if nsec < 0 {
		nsec += nanosPerSecond
		sec--
	}
	return Timestamp{Sec: sec, Nsec: int32(nsec)}
}

// ParseTimestamp parses the "s:ns" form, with an optional leading sign.
func ParseTimestamp(s string) (Timestamp, error) {
	neg := false
	body := s
	switch {
	case strings.HasPrefix(body, "-"):
		neg = true
		body = body[1:]
	case strings.HasPrefix(body, "+"):
		body = body[1:]
	}

	secStr, nsecStr, ok := strings.Cut(body, ":")
	if !ok || secStr == "" || nsecStr == "" {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	if !isDigits(secStr) || !isDigits(nsecStr) {
		return Timestamp{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}

	mag, err := strconv.ParseUint(secStr, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("%w: seconds %q: %v", ErrInvalidTimestamp, s, err)
	}
	nsec, err := strconv.ParseInt(nsecStr, 10, 64)
	if err != nil || nsec >= nanosPerSecond {
		return Timestamp{}, fmt.Errorf("%w: nanoseconds out of range in %q", ErrInvalidTimestamp, s)
	}

	// A negative timestamp with zero nanoseconds reaches one second further
	// than a positive one: -9223372036854775808:0 is MinInt64 seconds.
	limit := uint64(math.MaxInt64)
	if neg && nsec == 0 {
		limit++
	}
	if mag > limit {
		return Timestamp{}, fmt.Errorf("%w: seconds out of range in %q", ErrInvalidTimestamp, s)
	}

	switch {
	case !neg:
		return Timestamp{Sec: int64(mag), Nsec: int32(nsec)}, nil
	case mag == 0 && nsec == 0:
		return Timestamp{}, nil
	case nsec == 0:
		return Timestamp{Sec: -int64(mag-1) - 1}, nil
	}
	return Timestamp{Sec: -int64(mag) - 1, Nsec: int32(nanosPerSecond - nsec)}, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// String renders the canonical "s:ns" form.
func (t Timestamp) String() string {
	if t.Sec >= 0 {
		return strconv.FormatInt(t.Sec, 10) + ":" + strconv.FormatInt(int64(t.Nsec), 10)
	}

	// Magnitudes go through uint64 so MinInt64 seconds render correctly.
	var magSec uint64
	var magNsec int64
	if t.Nsec == 0 {
		magSec = uint64(-(t.Sec + 1)) + 1
	} else {
		magSec = uint64(-(t.Sec + 1))
		magNsec = nanosPerSecond - int64(t.Nsec)
	}
	return "-" + strconv.FormatUint(magSec, 10) + ":" + strconv.FormatInt(magNsec, 10)
}

// Compare returns -1, 0 or +1.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Sec < o.Sec:
		return -1
	case t.Sec > o.Sec:
		return 1
	case t.Nsec < o.Nsec:
		return -1
	case t.Nsec > o.Nsec:
		return 1
	}
	return 0
}

// ToNanosec returns the value as a signed nanosecond count, or ErrOverflow
// when it does not fit in an int64.
func (t Timestamp) ToNanosec() (int64, error) {
	const maxSec = math.MaxInt64 / nanosPerSecond
	const minSec = math.MinInt64 / nanosPerSecond

	switch {
	case t.Sec > maxSec || t.Sec < minSec-1:
		return 0, fmt.Errorf("%w: %s", ErrOverflow, t)
	case t.Sec == maxSec:
		if int64(t.Nsec) > math.MaxInt64-maxSec*nanosPerSecond {
			return 0, fmt.Errorf("%w: %s", ErrOverflow, t)
		}
	case t.Sec == minSec-1:
		base := (t.Sec + 1) * nanosPerSecond
		rem := int64(t.Nsec) - nanosPerSecond
		if rem < math.MinInt64-base {
			return 0, fmt.Errorf("%w: %s", ErrOverflow, t)
		}
		return base + rem, nil
	}
	return t.Sec*nanosPerSecond + int64(t.Nsec), nil
}
