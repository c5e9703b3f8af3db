package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/23026475/trackit/internal/dateparse"
)

const (
	MaxNameLength  = 200
	MaxTextLength  = 50000
	MaxLabelLength = 40
	MaxLabels      = 20
)

// ValidationError reports an invalid field value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateName checks a required, length-bounded name or title.
func ValidateName(field, s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return invalid(field, "is required")
	}
	if utf8.RuneCountInString(s) > MaxNameLength {
		return invalid(field, "must be at most %d characters", MaxNameLength)
	}
	return nil
}

// ValidateText checks an optional free-form text field.
func ValidateText(field, s string) error {
	if utf8.RuneCountInString(s) > MaxTextLength {
		return invalid(field, "must be at most %d characters", MaxTextLength)
	}
	return nil
}

// ValidateURL accepts an empty string or an absolute http(s) URL.
func ValidateURL(field, s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid(field, "must be an absolute http(s) URL")
	}
	return nil
}

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectPlanning, ProjectActive, ProjectOnHold, ProjectCompleted:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskReview, TaskDone:
		return true
	}
	return false
}

func (s SprintStatus) Valid() bool {
	switch s {
	case SprintPlanned, SprintActive, SprintCompleted:
		return true
	}
	return false
}

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleWriter || r == RoleReader
}

// Level returns the numeric level for a role (higher = more permissions).
func (r Role) Level() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleWriter:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// ValidateDateRange checks that end is not before start when both are set.
func ValidateDateRange(startField, endField string, start, end *time.Time) error {
	if start != nil && end != nil && end.Before(*start) {
		return invalid(endField, "must not be before %s", startField)
	}
	return nil
}

// NormalizeLabels trims, lowercases and dedupes labels, preserving order.
func NormalizeLabels(labels []string) ([]string, error) {
	out := normalizeList(labels, true)
	if len(out) > MaxLabels {
		return nil, invalid("labels", "at most %d allowed", MaxLabels)
	}
	for _, l := range out {
		if utf8.RuneCountInString(l) > MaxLabelLength {
			return nil, invalid("labels", "%q exceeds %d characters", l, MaxLabelLength)
		}
		if strings.Contains(l, ",") {
			return nil, invalid("labels", "%q must not contain a comma", l)
		}
	}
	return out, nil
}

// NormalizeTechStack trims and dedupes (case-insensitively) tech stack entries,
// keeping the first spelling seen.
func NormalizeTechStack(items []string) ([]string, error) {
	out := normalizeList(items, false)
	for _, item := range out {
		if strings.Contains(item, ",") {
			return nil, invalid("tech_stack", "%q must not contain a comma", item)
		}
	}
	return out, nil
}

func normalizeList(items []string, lower bool) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if lower {
			item = strings.ToLower(item)
		}
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// ParseDate parses an API date field. It accepts everything dateparse.Parse
// does, relative to the current time. Empty yields nil.
func ParseDate(field, s string) (*time.Time, error) {
	return ParseDateAt(field, s, time.Now())
}

// ParseDateAt is ParseDate with an explicit reference time.
func ParseDateAt(field, s string, now time.Time) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := dateparse.Parse(s, now)
	if err != nil {
		return nil, invalid(field, "must be a date (YYYY-MM-DD, today, +3d, friday, ...)")
	}
	return &t, nil
}
