// Package lead implements the form-submission validation and
// normalization pipeline. It is pure: no I/O, deterministic for a fixed
// clock, so callers inject the current time.
package lead

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// RejectionReason is the closed enumeration of validation failures.
type RejectionReason int

const (
	RejectNone RejectionReason = iota
	RejectMissingRequiredFields
	RejectInvalidPhoneLength
	RejectInvalidEmailFormat
)

// Fixed client-facing messages; the missing-fields message always lists
// all three required fields regardless of which ones were absent.
func (r RejectionReason) Message() string {
	switch r {
	case RejectMissingRequiredFields:
		return "Missing required fields: name, email and phone are required"
	case RejectInvalidPhoneLength:
		return "Phone number must contain exactly 10 digits"
	case RejectInvalidEmailFormat:
		return "Invalid email format"
	}
	return ""
}

func (r RejectionReason) String() string {
	switch r {
	case RejectMissingRequiredFields:
		return "missing_required_fields"
	case RejectInvalidPhoneLength:
		return "invalid_phone_length"
	case RejectInvalidEmailFormat:
		return "invalid_email_format"
	}
	return "none"
}

// Text accepts a JSON string or number. The marketing site sends phone
// numbers both quoted and bare depending on the form widget.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}

// Submission is the raw caller-supplied form body.
type Submission struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     Text   `json:"phone"`
	City      string `json:"city"`
	Details   string `json:"details"`
	FormType  string `json:"formType"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// Fields is the validated, defaulted output of the pipeline: the first
// eight columns of a canonical row, in sheet column order. The ninth
// column (local submission clock) is appended by Row at persistence
// time, not here.
type Fields struct {
	Timestamp string
	Name      string
	Email     string
	Phone     string
	City      string
	Details   string
	FormType  string
	Source    string
}

const (
	DefaultCity     = "Not specified"
	DefaultFormType = "general"
	DefaultSource   = "website"
)

var (
	// local-part: letters, digits, dot, underscore, dash; domain with a
	// 2-6 letter TLD. Deliberately simple, matches what the site's own
	// client-side check accepts.
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,6}$`)
)

// NormalizePhone strips every non-digit character. Idempotent.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidateAndNormalize runs the fixed-order gate: presence, phone
// length, email format, then defaulting. It short-circuits on the first
// failure and never produces partial Fields for a rejected submission.
func ValidateAndNormalize(in Submission, now time.Time) (Fields, RejectionReason) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	rawPhone := strings.TrimSpace(string(in.Phone))

	if name == "" || email == "" || rawPhone == "" {
		return Fields{}, RejectMissingRequiredFields
	}

	phone := NormalizePhone(rawPhone)
	if len(phone) != 10 {
		return Fields{}, RejectInvalidPhoneLength
	}

	if !emailRe.MatchString(email) {
		return Fields{}, RejectInvalidEmailFormat
	}

	f := Fields{
		Timestamp: strings.TrimSpace(in.Timestamp),
		Name:      name,
		Email:     email,
		Phone:     phone,
		City:      strings.TrimSpace(in.City),
		Details:   in.Details,
		FormType:  strings.TrimSpace(in.FormType),
		Source:    strings.TrimSpace(in.Source),
	}
	if f.Timestamp == "" {
		f.Timestamp = now.UTC().Format(time.RFC3339)
	}
	if f.City == "" {
		f.City = DefaultCity
	}
	if f.FormType == "" {
		f.FormType = DefaultFormType
	}
	if f.Source == "" {
		f.Source = DefaultSource
	}
	return f, RejectNone
}

// India time for the human-readable submission clock column; the sales
// team reads the sheet in IST.
var ist = func() *time.Location {
	if loc, err := time.LoadLocation("Asia/Kolkata"); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+30*60)
}()

// Row builds the canonical 9-column row. appendedAt is the moment of
// persistence, which is independent of the caller-supplied Timestamp.
func (f Fields) Row(appendedAt time.Time) []string {
	return []string{
		f.Timestamp,
		f.Name,
		f.Email,
		f.Phone,
		f.City,
		f.Details,
		f.FormType,
		f.Source,
		appendedAt.In(ist).Format("2/1/2006, 3:04:05 pm"),
	}
}

// HeaderRow matches the canonical row column order; seeded once when
// the sheet is empty.
func HeaderRow() []string {
	return []string{"Timestamp", "Name", "Email", "Phone", "City", "Details", "Form Type", "Source", "Submitted At (IST)"}
}
