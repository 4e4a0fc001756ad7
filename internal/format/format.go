// Package format renders domain results as bounded-length, transport-safe
// SMS text. All functions are pure and deterministic.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/textmit/textmit/internal/model"
)

const (
	// MaxReplyLength is the hard transport limit for one outbound SMS.
	MaxReplyLength = 250

	maxTitleLength = 25
	ellipsis       = "..."

	// codePlaceholder renders in place of a missing short code.
	codePlaceholder = "----"

	maxMITLines = 5
	maxLITLines = 3
)

// foldings maps common typographic characters to 7-bit-safe equivalents.
var foldings = map[rune]string{
	'‘': "'", '’': "'", '‚': "'",
	'“': `"`, '”': `"`,
	'–': "-", '—': "-",
	'…': ellipsis,
}

// Sanitize folds typographic punctuation to ASCII and strips everything else
// outside printable ASCII, newlines and the pictograph block.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case foldings[r] != "":
			b.WriteString(foldings[r])
		case r == '\n' || (r >= 0x20 && r < 0x7F):
			b.WriteRune(r)
		case r >= 0x1F300 && r <= 0x1FAFF:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate caps s at max characters, replacing the tail with an ellipsis
// whose own length is counted against the cap.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-len(ellipsis)]) + ellipsis
}

// Finalize applies sanitization and then the transport length cap.
// Sanitization runs first since folding can change the length.
func Finalize(s string) string {
	return Truncate(Sanitize(s), MaxReplyLength)
}

func title(t string) string {
	return Truncate(t, maxTitleLength)
}

// TaskLine renders one numbered list line: "<n>. [<code>] <title>(<due>)".
func TaskLine(n int, t model.Task) string {
	code := t.ShortCode
	if code == "" {
		code = codePlaceholder
	}
	line := fmt.Sprintf("%d. [%s] %s", n, code, title(t.Title))
	if t.DueDate != "" {
		line += fmt.Sprintf("(%s)", t.DueDate)
	}
	return line
}

// MITList renders an MIT-only listing.
func MITList(mits []model.Task) string {
	if len(mits) == 0 {
		return "No open MIT tasks."
	}
	var b strings.Builder
	b.WriteString("MIT:")
	writeLines(&b, mits, maxMITLines)
	return b.String()
}

// CombinedList renders MIT tasks followed by LIT tasks.
func CombinedList(mits, lits []model.Task) string {
	if len(mits) == 0 && len(lits) == 0 {
		return "No open tasks."
	}
	var b strings.Builder
	if len(mits) > 0 {
		b.WriteString("MIT:")
		writeLines(&b, mits, maxMITLines)
	}
	if len(lits) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("LIT:")
		writeLines(&b, lits, maxLITLines)
	}
	return b.String()
}

func writeLines(b *strings.Builder, tasks []model.Task, max int) {
	for i, t := range tasks {
		if i >= max {
			break
		}
		b.WriteString("\n")
		b.WriteString(TaskLine(i+1, t))
	}
}

// Created confirms a new task with its short code.
func Created(code, taskTitle string) string {
	return fmt.Sprintf("Created [%s] %s", code, title(taskTitle))
}

// Closed confirms a completed task.
func Closed(code, taskTitle string) string {
	return fmt.Sprintf("Closed [%s] %s", code, title(taskTitle))
}

// Updated confirms an edited task.
func Updated(code, taskTitle string) string {
	return fmt.Sprintf("Updated [%s] %s", code, title(taskTitle))
}

// Help returns the static command reference.
func Help() string {
	return strings.Join([]string{
		"Commands:",
		`"Title" MIT1-3|LITn MM/DD ID:KEY - create`,
		"CLOSE code ID:KEY - complete",
		`EDIT code "Title"|MITn|date ID:KEY`,
		"LIST MIT ID:KEY / LIST ALL ID:KEY",
	}, "\n")
}

// Error replies. These are returned to the transport caller and are never
// sent over the SMS channel.

func Unparsable() string {
	return "Could not understand that. Text HELP for the command list."
}

func Unauthorized() string {
	return "Not authorized. Check your phone number and ID key."
}

func RateLimited(resetAt time.Time) string {
	return fmt.Sprintf("Too many messages. Try again after %s.", resetAt.UTC().Format("15:04 MST"))
}

func DailyLimitReached() string {
	return "Daily command limit reached. Try again tomorrow."
}

func CodeNotFound(code string) string {
	return fmt.Sprintf("No task with code %s.", code)
}

func TryAgainLater() string {
	return "Something went wrong. Please try again later."
}
