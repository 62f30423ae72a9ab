package autoshutdown

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// fieldSet is the matching values for a single standard-cron field,
// stored as a sparse set rather than a bitmask since months/weekdays
// need only a handful of bits and minutes/hours fit easily in a map.
type fieldSet map[int]bool

// schedule is a parsed 5-field standard cron expression (minute hour
// dom month dow), evaluated at minute resolution: no seconds field, no
// vixie-cron "L"/"W"/"#" extensions. The example pack carries no cron
// library, so this evaluator is hand-rolled; see DESIGN.md.
type schedule struct {
	minute fieldSet
	hour   fieldSet
	dom    fieldSet
	month  fieldSet
	dow    fieldSet

	// domStar/dowStar record whether those two fields were literally
	// "*" in the source expression: standard cron's day-of-month/
	// day-of-week OR rule keys off the source text, not the resulting
	// value set, so "1-31" in dom counts as restricted and is OR'd
	// against a restricted dow.
	domStar bool
	dowStar bool
}

// Matches reports whether t's minute falls on the schedule, applying
// cron's OR rule when both day-of-month and day-of-week are
// restricted (neither is the literal "*"): either one matching then
// suffices, matching standard cron semantics.
func (s schedule) Matches(t time.Time) bool {
	if !s.minute[t.Minute()] || !s.hour[t.Hour()] || !s.month[int(t.Month())] {
		return false
	}
	if !s.domStar && !s.dowStar {
		return s.dom[t.Day()] || s.dow[int(t.Weekday())]
	}
	return s.dom[t.Day()] && s.dow[int(t.Weekday())]
}

// parseCron parses a 5-field "minute hour dom month dow" expression
// supporting "*", "*/step", "a-b", "a-b/step", and comma lists.
func parseCron(expr string) (schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}
	minute, err := parseField(fields[0], 0, 59)
	if err != nil {
		return schedule{}, fmt.Errorf("cron minute field: %w", err)
	}
	hour, err := parseField(fields[1], 0, 23)
	if err != nil {
		return schedule{}, fmt.Errorf("cron hour field: %w", err)
	}
	dom, err := parseField(fields[2], 1, 31)
	if err != nil {
		return schedule{}, fmt.Errorf("cron day-of-month field: %w", err)
	}
	month, err := parseField(fields[3], 1, 12)
	if err != nil {
		return schedule{}, fmt.Errorf("cron month field: %w", err)
	}
	dow, err := parseField(fields[4], 0, 6)
	if err != nil {
		return schedule{}, fmt.Errorf("cron day-of-week field: %w", err)
	}
	return schedule{
		minute: minute, hour: hour, dom: dom, month: month, dow: dow,
		domStar: fields[2] == "*",
		dowStar: fields[4] == "*",
	}, nil
}

func parseField(field string, min, max int) (fieldSet, error) {
	set := make(fieldSet)
	for _, part := range strings.Split(field, ",") {
		if err := parsePart(part, min, max, set); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func parsePart(part string, min, max int, set fieldSet) error {
	rangePart, step, err := splitStep(part)
	if err != nil {
		return err
	}

	lo, hi := min, max
	if rangePart != "*" {
		bounds := strings.SplitN(rangePart, "-", 2)
		lo, err = strconv.Atoi(bounds[0])
		if err != nil {
			return fmt.Errorf("invalid value %q", bounds[0])
		}
		hi = lo
		if len(bounds) == 2 {
			hi, err = strconv.Atoi(bounds[1])
			if err != nil {
				return fmt.Errorf("invalid value %q", bounds[1])
			}
		}
	}
	if lo < min || hi > max || lo > hi {
		return fmt.Errorf("value out of range [%d,%d]: %q", min, max, part)
	}
	for v := lo; v <= hi; v += step {
		set[v] = true
	}
	return nil
}

func splitStep(part string) (rangePart string, step int, err error) {
	pieces := strings.SplitN(part, "/", 2)
	if len(pieces) == 1 {
		return pieces[0], 1, nil
	}
	step, err = strconv.Atoi(pieces[1])
	if err != nil || step <= 0 {
		return "", 0, fmt.Errorf("invalid step in %q", part)
	}
	return pieces[0], step, nil
}
