// Package parser turns raw SMS text into a structured command. It performs
// no I/O and is deterministic over its inputs (the process clock only feeds
// the current-year default for year-less due dates).
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/textmit/textmit/internal/model"
)

// matcher inspects trimmed message text and returns a command when the text
// matches its grammar. Matchers run in priority order, first match wins;
// a matcher that recognizes its keyword but finds the message malformed
// declines so the CREATE fallback (and its keyword rejection) can decide.
type matcher func(text string, now time.Time) (*model.ParsedCommand, bool)

var matchers = []matcher{
	matchHelp,
	matchClose,
	matchEdit,
	matchListMIT,
	matchListAll,
	matchCreate,
}

var (
	helpRx    = regexp.MustCompile(`(?i)^help\b`)
	closeRx   = regexp.MustCompile(`(?i)^close\s+([A-Za-z0-9]{4,6})\b`)
	editRx    = regexp.MustCompile(`(?i)^edit\s+([A-Za-z0-9]{4,6})\b`)
	listMITRx = regexp.MustCompile(`(?i)^list\s+mit\b`)
	listAllRx = regexp.MustCompile(`(?i)^list\s+all\b`)

	// ID: followed by exactly 4 digits; the trailing boundary rejects longer runs.
	idRx = regexp.MustCompile(`(?i)\bid:\s*(\d{4})\b`)

	quotedRx = regexp.MustCompile(`"([^"]+)"`)
	mitRx    = regexp.MustCompile(`(?i)\bmit([1-3])\b`)
	litRx    = regexp.MustCompile(`(?i)\blit([1-9]\d*)\b`)

	dateFullRx  = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	dateShortRx = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b(?:[^/]|$)`)

	keywordRx = regexp.MustCompile(`(?i)^(close|edit|list|help)\b`)
	markerRx  = regexp.MustCompile(`(?i)\b(mit[1-3]|lit\d+|id:)`)
)

// Parse converts raw SMS text into a structured command.
// Returns model.ErrUnparsable when no matcher accepts the text.
func Parse(text, senderPhone string) (*model.ParsedCommand, error) {
	return parseAt(text, senderPhone, time.Now())
}

// parseAt pins the clock so tests can fix the year-less due-date default.
func parseAt(text, senderPhone string, now time.Time) (*model.ParsedCommand, error) {
	trimmed := strings.TrimSpace(text)
	for _, m := range matchers {
		if cmd, ok := m(trimmed, now); ok {
			cmd.SenderPhone = senderPhone
			return cmd, nil
		}
	}
	return nil, model.ErrUnparsable
}

func matchHelp(text string, _ time.Time) (*model.ParsedCommand, bool) {
	if !helpRx.MatchString(text) {
		return nil, false
	}
	// HELP is the only command that tolerates a missing ID token.
	key := model.HelpSMSKey
	if k, ok := extractSMSKey(text); ok {
		key = k
	}
	return &model.ParsedCommand{Kind: model.CommandHelp, SMSKey: key}, true
}

func matchClose(text string, _ time.Time) (*model.ParsedCommand, bool) {
	m := closeRx.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	key, ok := extractSMSKey(text)
	if !ok {
		return nil, false
	}
	return &model.ParsedCommand{
		Kind:      model.CommandClose,
		SMSKey:    key,
		ShortCode: strings.ToLower(m[1]),
	}, true
}

func matchEdit(text string, now time.Time) (*model.ParsedCommand, bool) {
	m := editRx.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	key, ok := extractSMSKey(text)
	if !ok {
		return nil, false
	}
	title := extractTitle(text)
	isMIT, priority, hasPriority := extractPriority(text)
	// EDIT accepts full dates only; CREATE additionally accepts MM/DD.
	due := extractDueDate(text, now, false)
	// A bare code+ID with nothing to change is not a valid EDIT.
	if title == "" && !hasPriority && due == "" {
		return nil, false
	}
	return &model.ParsedCommand{
		Kind:        model.CommandEdit,
		SMSKey:      key,
		ShortCode:   strings.ToLower(m[1]),
		Title:       title,
		Priority:    priority,
		IsMIT:       isMIT,
		HasPriority: hasPriority,
		DueDate:     due,
	}, true
}

func matchListMIT(text string, _ time.Time) (*model.ParsedCommand, bool) {
	if !listMITRx.MatchString(text) {
		return nil, false
	}
	key, ok := extractSMSKey(text)
	if !ok {
		return nil, false
	}
	return &model.ParsedCommand{Kind: model.CommandListMIT, SMSKey: key}, true
}

func matchListAll(text string, _ time.Time) (*model.ParsedCommand, bool) {
	if !listAllRx.MatchString(text) {
		return nil, false
	}
	key, ok := extractSMSKey(text)
	if !ok {
		return nil, false
	}
	return &model.ParsedCommand{Kind: model.CommandListAll, SMSKey: key}, true
}

// matchCreate is the fallback: any message with an ID token and a usable
// title is a CREATE.
func matchCreate(text string, now time.Time) (*model.ParsedCommand, bool) {
	key, ok := extractSMSKey(text)
	if !ok {
		return nil, false
	}
	title := extractTitle(text)
	if title == "" {
		return nil, false
	}
	isMIT, priority, hasPriority := extractPriority(text)
	if !hasPriority {
		// Default placement: most important, top slot.
		isMIT, priority = true, 1
	}
	due := extractDueDate(text, now, true)
	return &model.ParsedCommand{
		Kind:        model.CommandCreate,
		SMSKey:      key,
		Title:       title,
		Priority:    priority,
		IsMIT:       isMIT,
		HasPriority: true,
		DueDate:     due,
	}, true
}

func extractSMSKey(text string) (string, bool) {
	m := idRx.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// extractTitle prefers a double-quoted substring and falls back to everything
// before the first MITn/LITn/ID: marker. Titles that are empty after trimming
// or that begin with another command keyword are rejected.
func extractTitle(text string) string {
	if m := quotedRx.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	cut := len(text)
	if loc := markerRx.FindStringIndex(text); loc != nil {
		cut = loc[0]
	}
	title := strings.TrimSpace(text[:cut])
	if title == "" || keywordRx.MatchString(title) {
		return ""
	}
	return title
}

// extractPriority recognizes MIT1-MIT3 and LITn markers. When both appear
// the MIT marker wins, so a command never carries both semantics.
func extractPriority(text string) (isMIT bool, priority int, ok bool) {
	if m := mitRx.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return true, n, true
	}
	if m := litRx.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return false, n, true
	}
	return false, 0, false
}

// extractDueDate returns the first date-shaped token as YYYY-MM-DD, or ""
// when absent or not a real calendar date. A missing year resolves to the
// current year when allowShort is set.
func extractDueDate(text string, now time.Time, allowShort bool) string {
	var month, day, year int
	if m := dateFullRx.FindStringSubmatch(text); m != nil {
		month, _ = strconv.Atoi(m[1])
		day, _ = strconv.Atoi(m[2])
		year, _ = strconv.Atoi(m[3])
	} else if allowShort {
		m := dateShortRx.FindStringSubmatch(text)
		if m == nil {
			return ""
		}
		month, _ = strconv.Atoi(m[1])
		day, _ = strconv.Atoi(m[2])
		year = now.Year()
	} else {
		return ""
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Year() != year || int(d.Month()) != month || d.Day() != day {
		return ""
	}
	return d.Format("2006-01-02")
}
