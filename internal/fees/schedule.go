package fees

import (
	"fmt"
	"strings"
)

// LalamoveSlots are the delivery windows a customer can pick for Lalamove.
var LalamoveSlots = []string{"09:00-12:00", "12:00-15:00", "15:00-18:00"}

func ValidLalamoveSlot(s string) bool {
	for _, v := range LalamoveSlots {
		if v == s {
			return true
		}
	}
	return false
}

// Schedule is the published pickup calendar: day code (MON..SUN) -> slots.
type Schedule map[string][]string

// ParseSchedule reads "SAT=10:00-12:00|13:00-15:00;SUN=10:00-12:00".
func ParseSchedule(s string) (Schedule, error) {
	out := Schedule{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		day, slots, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("pickup schedule: missing '=' in %q", part)
		}
		day = strings.ToUpper(strings.TrimSpace(day))
		if !validDay(day) {
			return nil, fmt.Errorf("pickup schedule: unknown day %q", day)
		}
		for _, sl := range strings.Split(slots, "|") {
			if sl = strings.TrimSpace(sl); sl != "" {
				out[day] = append(out[day], sl)
			}
		}
	}
	return out, nil
}

func (s Schedule) Valid(day, slot string) bool {
	for _, v := range s[strings.ToUpper(day)] {
		if v == slot {
			return true
		}
	}
	return false
}

func validDay(d string) bool {
	switch d {
	case "MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN":
		return true
	}
	return false
}
