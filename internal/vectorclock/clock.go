// Package vectorclock implements per-device causal version vectors used to
// order concurrent edits of the same case made by offline devices.
//
// A Clock maps a device id to a counter. Devices missing from a clock are
// treated as having counter 0, so {A:1} and {A:1, B:0} are the same clock.
package vectorclock

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Ordering is the causal relation between two clocks.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// Clock is a device id to counter mapping.
type Clock map[string]int64

// New returns a clock with a single device entry.
func New(deviceID string, counter int64) Clock {
	return Clock{deviceID: counter}
}

// Get returns the counter for device, 0 when absent.
func (c Clock) Get(deviceID string) int64 {
	return c[deviceID]
}

// IsEmpty reports whether the clock has no nonzero entries.
func (c Clock) IsEmpty() bool {
	for _, v := range c {
		if v != 0 {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (c Clock) Clone() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Increment bumps the counter of deviceID and returns the clock.
func (c Clock) Increment(deviceID string) Clock {
	c[deviceID]++
	return c
}

// LessOrEqual reports a <= b: every counter of a is <= the one in b.
func LessOrEqual(a, b Clock) bool {
	for d, v := range a {
		if v > b[d] {
			return false
		}
	}
	return true
}

// Less reports a < b.
func Less(a, b Clock) bool {
	return LessOrEqual(a, b) && !IsEqual(a, b)
}

// IsEqual reports whether a and b have the same nonzero entries.
func IsEqual(a, b Clock) bool {
	return LessOrEqual(a, b) && LessOrEqual(b, a)
}

// IsConcurrent reports whether neither clock dominates the other.
func IsConcurrent(a, b Clock) bool {
	return !LessOrEqual(a, b) && !LessOrEqual(b, a)
}

// Compare returns the ordering of a relative to b.
func Compare(a, b Clock) Ordering {
	le, ge := LessOrEqual(a, b), LessOrEqual(b, a)
	switch {
	case le && ge:
		return Equal
	case le:
		return Before
	case ge:
		return After
	default:
		return Concurrent
	}
}

// Merge returns the componentwise maximum of a and b. Inputs are not modified.
func Merge(a, b Clock) Clock {
	out := a.Clone()
	for d, v := range b {
		if v > out[d] {
			out[d] = v
		}
	}
	return out
}

// entry is the wire form of one clock component.
type entry struct {
	DeviceID string `json:"deviceId"`
	Revision int64  `json:"revision"`
}

// MarshalJSON writes the clock as an array of {deviceId, revision} sorted by
// device id. Zero counters are omitted.
func (c Clock) MarshalJSON() ([]byte, error) {
	devices := make([]string, 0, len(c))
	for d, v := range c {
		if v != 0 {
			devices = append(devices, d)
		}
	}
	sort.Strings(devices)

	entries := make([]entry, 0, len(devices))
	for _, d := range devices {
		entries = append(entries, entry{DeviceID: d, Revision: c[d]})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON accepts the array form written by MarshalJSON, a plain
// {"device": counter} object, or null.
func (c *Clock) UnmarshalJSON(data []byte) error {
	out := Clock{}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err == nil {
		for _, e := range entries {
			if e.Revision < 0 {
				return fmt.Errorf("negative counter for device %q", e.DeviceID)
			}
			if e.Revision > out[e.DeviceID] {
				out[e.DeviceID] = e.Revision
			}
		}
		*c = out
		return nil
	}

	var m map[string]int64
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("invalid clock: %w", err)
	}
	for d, v := range m {
		if v < 0 {
			return fmt.Errorf("negative counter for device %q", d)
		}
		out[d] = v
	}
	*c = out
	return nil
}

// Parse decodes a clock from its JSON text. Empty text yields an empty clock.
func Parse(text string) (Clock, error) {
	if text == "" {
		return Clock{}, nil
	}
	var c Clock
	if err := json.Unmarshal([]byte(text), &c); err != nil {
		return nil, err
	}
	return c, nil
}

// String returns the JSON wire form.
func (c Clock) String() string {
	b, err := c.MarshalJSON()
	if err != nil {
		return "[]"
	}
	return string(b)
}
