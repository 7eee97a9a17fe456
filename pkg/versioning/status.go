package versioning

import "strings"

// Status is the lifecycle state of a configuration version.
type Status string

const (
	StatusDraft    Status = "Draft"
	StatusSilver   Status = "Silver"
	StatusApproved Status = "Approved"
	StatusGolden   Status = "Golden"
	StatusArchived Status = "Archived"
)

// AllStatuses lists every status in pipeline order.
var AllStatuses = []Status{StatusDraft, StatusSilver, StatusApproved, StatusGolden, StatusArchived}

// String returns the status name.
func (s Status) String() string { return string(s) }

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool { return s == StatusArchived }

// ParseStatus parses a status name case-insensitively.
func ParseStatus(name string) (Status, error) {
	trimmed := strings.TrimSpace(name)
	for _, v := range AllStatuses {
		if strings.EqualFold(string(v), trimmed) {
			return v, nil
		}
	}
	return "", Errorf(KindValidation, "parse status", "unknown status %q", name)
}
