package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"remindbot/internal/todo"
)

// Rules is a keyword and pattern extractor used when no language model is
// configured or the model call fails.
//
// Recognized due forms:
//   - "in N minutes|hours|days|weeks"
//   - "today", "tomorrow", "dd/mm/yyyy", optionally with a time of day
//   - "at 3 PM", "at 15:30", "3pm", "15:30"
//
// A date without a time means 12:00, or 23:59 when noon already passed.
type Rules struct {
	Location *time.Location
	// Lenient accepts any non-empty text as a title even without a due
	// time, priority keyword or reminder phrase.
	Lenient bool
}

var (
	relRe      = regexp.MustCompile(`(?i)\bin\s+(\d{1,4})\s*(minutes?|mins?|hours?|hrs?|days?|weeks?)\b`)
	dateRe     = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	dayWordRe  = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow)\b`)
	atTimeRe   = regexp.MustCompile(`(?i)\b(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b|\bat\s+(\d{1,2})(?::(\d{2}))?\b|\b(\d{1,2}):(\d{2})\b`)
	leadRe     = regexp.MustCompile(`(?i)^\s*(?:(?:urgent|asap|important|critical|high priority|low priority)\s*[:!\-]+\s*)?(?:(?:please\s+)?remind me (?:to|about)\s+|todo\s*[:\-]\s*|task\s*[:\-]\s*)?`)
	reminderRe = regexp.MustCompile(`(?i)^\s*(?:(?:please\s+)?remind me|todo\b|task\s*[:\-])`)
	phraseRe   = regexp.MustCompile(`(?i)\b(?:asap|when i can|not urgent|high priority|low priority|immediately)\b|\b(?:on|by|due)\s*$`)
	spaceRe    = regexp.MustCompile(`\s{2,}`)

	urgentRe = regexp.MustCompile(`(?i)\b(urgent|asap|immediately|critical)\b`)
	highRe   = regexp.MustCompile(`(?i)\b(high priority|important|must do)\b`)
	lowRe    = regexp.MustCompile(`(?i)\b(low priority|when i can|not urgent)\b`)
)

func (r Rules) Extract(_ context.Context, text string, now time.Time) (todo.Draft, bool, error) {
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	text = strings.TrimSpace(text)
	if text == "" {
		return todo.Draft{}, false, nil
	}

	prio, prioFound := detectPriority(text)
	due, rest := detectDue(text, now)
	explicit := reminderRe.MatchString(text)

	title := cleanTitle(rest)
	if title == "" {
		return todo.Draft{}, false, nil
	}
	if !r.Lenient && due.IsZero() && !prioFound && !explicit {
		return todo.Draft{}, false, nil
	}
	return todo.Draft{Title: title, Due: due, Priority: prio}, true, nil
}

// DetectPriority exposes the keyword rules for callers that already have a
// title.
func DetectPriority(text string) todo.Priority {
	p, _ := detectPriority(text)
	return p
}

func detectPriority(text string) (todo.Priority, bool) {
	switch {
	case lowRe.MatchString(text):
		return todo.PriorityLow, true
	case urgentRe.MatchString(text):
		return todo.PriorityUrgent, true
	case highRe.MatchString(text):
		return todo.PriorityHigh, true
	default:
		return todo.PriorityMedium, false
	}
}

// ParseWhen parses a standalone due expression such as "tomorrow 9am" or
// "in 2 hours". It reports false when nothing was recognized.
func ParseWhen(s string, now time.Time) (time.Time, bool) {
	due, rest := detectDue(s, now)
	if due.IsZero() || strings.TrimSpace(rest) != "" {
		return time.Time{}, false
	}
	return due, true
}

func detectDue(text string, now time.Time) (time.Time, string) {
	loc := now.Location()

	if m := relRe.FindStringSubmatchIndex(text); m != nil {
		n, _ := strconv.Atoi(text[m[2]:m[3]])
		unit := strings.ToLower(text[m[4]:m[5]])
		var d time.Duration
		switch {
		case strings.HasPrefix(unit, "min"):
			d = time.Duration(n) * time.Minute
		case strings.HasPrefix(unit, "h"):
			d = time.Duration(n) * time.Hour
		case strings.HasPrefix(unit, "d"):
			d = time.Duration(n) * 24 * time.Hour
		default:
			d = time.Duration(n) * 7 * 24 * time.Hour
		}
		return now.Add(d).Truncate(time.Minute), cut(text, m[0], m[1])
	}

	var (
		day     time.Time
		hasDay  bool
		hour    = -1
		minute  int
		rest    = text
		tonight bool
	)

	if m := dateRe.FindStringSubmatchIndex(rest); m != nil {
		dd, _ := strconv.Atoi(rest[m[2]:m[3]])
		mm, _ := strconv.Atoi(rest[m[4]:m[5]])
		yy, _ := strconv.Atoi(rest[m[6]:m[7]])
		d := time.Date(yy, time.Month(mm), dd, 0, 0, 0, 0, loc)
		if d.Day() == dd && int(d.Month()) == mm {
			day, hasDay = d, true
			rest = cut(rest, m[0], m[1])
		}
	}
	if !hasDay {
		if m := dayWordRe.FindStringSubmatchIndex(rest); m != nil {
			word := strings.ToLower(rest[m[2]:m[3]])
			y, mo, d := now.Date()
			day, hasDay = time.Date(y, mo, d, 0, 0, 0, 0, loc), true
			switch word {
			case "tomorrow":
				day = day.AddDate(0, 0, 1)
			case "tonight":
				tonight = true
			}
			rest = cut(rest, m[0], m[1])
		}
	}

	if m := atTimeRe.FindStringSubmatchIndex(rest); m != nil {
		h, mi, ok := clockTime(rest, m)
		if ok {
			hour, minute = h, mi
			rest = cut(rest, m[0], m[1])
		}
	}

	switch {
	case !hasDay && hour < 0:
		return time.Time{}, text
	case hasDay && hour < 0:
		if tonight {
			return day.Add(20 * time.Hour), rest
		}
		noon := day.Add(12 * time.Hour)
		if noon.After(now) {
			return noon, rest
		}
		return day.Add(23*time.Hour + 59*time.Minute), rest
	case !hasDay:
		y, mo, d := now.Date()
		t := time.Date(y, mo, d, hour, minute, 0, 0, loc)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, rest
	default:
		return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), rest
	}
}

// clockTime reads whichever alternative of atTimeRe matched.
func clockTime(s string, m []int) (int, int, bool) {
	group := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return s[m[2*i]:m[2*i+1]]
	}
	var hs, ms, ampm string
	switch {
	case group(1) != "":
		hs, ms, ampm = group(1), group(2), strings.ToLower(group(3))
	case group(4) != "":
		hs, ms = group(4), group(5)
	default:
		hs, ms = group(6), group(7)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, false
	}
	mi := 0
	if ms != "" {
		mi, _ = strconv.Atoi(ms)
	}
	switch ampm {
	case "am":
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		if h == 12 {
			h = 0
		}
	case "pm":
		if h < 1 || h > 12 {
			return 0, 0, false
		}
		if h != 12 {
			h += 12
		}
	}
	if h > 23 || mi > 59 {
		return 0, 0, false
	}
	return h, mi, true
}

func cut(s string, from, to int) string { return s[:from] + " " + s[to:] }

func cleanTitle(s string) string {
	s = leadRe.ReplaceAllString(s, "")
	s = phraseRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	s = strings.Trim(s, " \t\n,.;:!-")
	s = strings.TrimSpace(phraseRe.ReplaceAllString(s, ""))
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
