// Package timing recommends posting slots and scores candidate times. It is
// pure: callers pass the reference instant, nothing here reads the clock or
// touches storage.
package timing

import (
	"strings"
	"time"
)

type slotTable struct {
	weekdayMorning   int
	weekdayAfternoon int
	weekdayEvening   int
	weekendMorning   int
	weekendAfternoon int
}

// Per-platform audience activity hours. Unknown platforms fall back to the
// twitter table.
var optimalHours = map[string]slotTable{
	"twitter": {
		weekdayMorning:   9,
		weekdayAfternoon: 15,
		weekdayEvening:   19,
		weekendMorning:   10,
		weekendAfternoon: 16,
	},
	"linkedin": {
		weekdayMorning:   8,
		weekdayAfternoon: 12,
		weekdayEvening:   17,
		weekendMorning:   9,
		weekendAfternoon: 14,
	},
}

var (
	breakingWords     = []string{"breaking", "urgent", "just announced", "happening now"}
	motivationalWords = []string{"motivation", "inspire", "achieve", "success", "goal"}
	educationalWords  = []string{"learn", "tutorial", "guide", "how to", "tip"}
)

// ContentKind classifies content for slot selection. Precedence when several
// match: breaking, then motivational, then educational.
type ContentKind int

const (
	KindDefault ContentKind = iota
	KindBreaking
	KindMotivational
	KindEducational
)

// Classify inspects content for timing-relevant keywords.
func Classify(content string) ContentKind {
	lower := strings.ToLower(content)
	if containsAny(lower, breakingWords) {
		return KindBreaking
	}
	if containsAny(lower, motivationalWords) {
		return KindMotivational
	}
	if containsAny(lower, educationalWords) {
		return KindEducational
	}
	return KindDefault
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Recommend picks the next good posting slot for the content, strictly after
// now. Breaking content goes out almost immediately; motivational content
// takes the early-morning slot, educational the afternoon, everything else
// the platform's morning slot. A slot already in the past rolls forward a
// day, skipping weekends when the roll starts on a weekday.
func Recommend(now time.Time, platform, content string) time.Time {
	kind := Classify(content)
	if kind == KindBreaking {
		return now.Add(5 * time.Minute)
	}

	hours, ok := optimalHours[platform]
	if !ok {
		hours = optimalHours["twitter"]
	}
	isWeekend := now.Weekday() == time.Saturday || now.Weekday() == time.Sunday

	var hour, minute int
	switch kind {
	case KindMotivational:
		hour, minute = 8, 30
	case KindEducational:
		hour, minute = 14, 0
	default:
		if isWeekend {
			hour = hours.weekendMorning
		} else {
			hour = hours.weekdayMorning
		}
		minute = 30
	}

	slot := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if slot.After(now) {
		return slot
	}

	slot = slot.AddDate(0, 0, 1)
	if !isWeekend {
		for slot.Weekday() == time.Saturday || slot.Weekday() == time.Sunday {
			slot = slot.AddDate(0, 0, 1)
		}
	}
	return slot
}

// Score rates a posting time for a platform on a 0-100 scale. Twitter peaks
// around commute and evening hours every day; linkedin peaks during weekday
// business hours and is penalized on weekends.
func Score(t time.Time, platform string) float64 {
	hour := t.Hour()
	isWeekend := t.Weekday() == time.Saturday || t.Weekday() == time.Sunday

	var base float64
	switch platform {
	case "linkedin":
		switch {
		case !isWeekend && (between(hour, 8, 10) || between(hour, 12, 14) || between(hour, 17, 19)):
			base = 90
		case !isWeekend && (between(hour, 10, 12) || between(hour, 14, 17)):
			base = 75
		default:
			base = 40
		}
	default:
		switch {
		case between(hour, 8, 10) || between(hour, 15, 17) || between(hour, 19, 21):
			base = 90
		case between(hour, 11, 14) || between(hour, 18, 19):
			base = 75
		default:
			base = 50
		}
	}

	if isWeekend && platform == "linkedin" {
		base *= 0.7
	}
	if base > 100 {
		base = 100
	}
	return base
}

func between(h, lo, hi int) bool {
	return h >= lo && h <= hi
}
