package redmine_notifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"
)

const (
	subjectMessageLimit = 60
	descriptionFrames   = 20
	noteFrames          = 10
	timestampLayout     = "2006-01-02 15:04:05 -0700"
	noBacktrace         = "No backtrace available"
)

var (
	subjectCountRegex       = regexp.MustCompile(`\]\[(\d+)\]`)
	subjectFingerprintRegex = regexp.MustCompile(`\[([a-f0-9]{8})\]`)
	lineBreakRegex          = regexp.MustCompile(`\s*[\r\n]+\s*`)
)

// reservedContextKeys are rendered in their own lines and skipped by the
// generic key/value section.
var reservedContextKeys = []string{"url", "user"}

// BuildSubject renders "[<fingerprint>][<count>] <Class>: <message>"
func BuildSubject(fingerprint string, count int, exc ExceptionDescriptor) string {
	return fmt.Sprintf("[%s][%d] %s: %s", fingerprint, count, exc.ClassName, TruncateMessage(exc.Message))
}

// TruncateMessage flattens the message to a single line and caps it for subjects
func TruncateMessage(message string) string {
	message = strings.TrimSpace(lineBreakRegex.ReplaceAllString(message, " "))
	if utf8.RuneCountInString(message) <= subjectMessageLimit {
		return message
	}
	return string([]rune(message)[:subjectMessageLimit]) + "..."
}

// ParseCount extracts the occurrence count from a subject, 0 when missing
func ParseCount(subject string) int {
	m := subjectCountRegex.FindStringSubmatch(subject)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// ParseFingerprint extracts the fingerprint from a subject, "" when missing
func ParseFingerprint(subject string) string {
	m := subjectFingerprintRegex.FindStringSubmatch(subject)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// MergeTags appends tags after defaults, dropping blanks and duplicates while
// keeping the first occurrence order.
func MergeTags(defaults, tags []string) []string {
	all := make([]string, 0, len(defaults)+len(tags))
	all = append(all, defaults...)
	all = append(all, tags...)

	all = lo.Map(all, func(t string, _ int) string { return strings.TrimSpace(t) })
	return lo.Uniq(lo.Compact(all))
}

// BuildDescription renders the body of a newly created issue
func BuildDescription(exc ExceptionDescriptor, c Context, appName string, seenAt time.Time) string {
	var b strings.Builder

	b.WriteString("h2. Exception\n\n")
	fmt.Fprintf(&b, "*Class:* %s\n", exc.ClassName)
	fmt.Fprintf(&b, "*Message:* %s\n", exc.Message)
	fmt.Fprintf(&b, "*Application:* %s\n", appName)
	fmt.Fprintf(&b, "*First seen:* %s\n", seenAt.Format(timestampLayout))

	writeRequestInfo(&b, c)

	extra := lo.Filter(c.Fields, func(f Field, _ int) bool {
		return !lo.Contains(reservedContextKeys, f.Key)
	})
	if len(extra) > 0 {
		b.WriteString("\nh2. Context\n\n")
		for _, f := range extra {
			fmt.Fprintf(&b, "%s: %s\n", humanizeKey(f.Key), f.Value)
		}
	}

	b.WriteString("\nh2. Backtrace\n\n")
	writeBacktrace(&b, exc.StackFrames, descriptionFrames)

	return b.String()
}

// BuildJournalNote renders the note appended on a repeated occurrence
func BuildJournalNote(exc ExceptionDescriptor, c Context, count int, seenAt time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Occurred again (*%d x*) at %s\n", count, seenAt.Format(timestampLayout))
	writeRequestInfo(&b, c)

	b.WriteString("\n")
	writeBacktrace(&b, exc.StackFrames, noteFrames)

	return b.String()
}

func writeRequestInfo(b *strings.Builder, c Context) {
	if u, ok := c.Get("url"); ok && u != "" {
		fmt.Fprintf(b, "*URL:* %s\n", u)
	}
	if u, ok := c.Get("user"); ok && u != "" {
		fmt.Fprintf(b, "*User:* %s\n", u)
	}
}

func writeBacktrace(b *strings.Builder, frames []string, limit int) {
	if len(frames) == 0 {
		b.WriteString(noBacktrace + "\n")
		return
	}

	b.WriteString("<pre>\n")
	for _, frame := range frames[:min(limit, len(frames))] {
		b.WriteString(frame)
		b.WriteString("\n")
	}
	b.WriteString("</pre>\n")
}

// humanizeKey turns "request_id" into "Request id"
func humanizeKey(key string) string {
	key = strings.ReplaceAll(strings.TrimSpace(key), "_", " ")
	r, size := utf8.DecodeRuneInString(key)
	if r == utf8.RuneError {
		return key
	}
	return string(unicode.ToUpper(r)) + key[size:]
}
