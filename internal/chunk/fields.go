package chunk

import "regexp"

// FieldKind names the category of a matched field.
type FieldKind string

const (
	FieldEmail      FieldKind = "email"
	FieldPhone      FieldKind = "phone"
	FieldURL        FieldKind = "url"
	FieldDate       FieldKind = "date"
	FieldIP         FieldKind = "ip"
	FieldPrice      FieldKind = "price"
	FieldSSN        FieldKind = "ssn"         // redacted
	FieldCreditCard FieldKind = "credit_card" // redacted
)

// Field is one regex-extracted value, with Redacted set for sensitive
// kinds per spec.md §4.10 ("detects SSNs and credit-card-shaped strings
// as redacted entries").
type Field struct {
	Kind     FieldKind `json:"kind"`
	Value    string    `json:"value"`
	Redacted bool      `json:"redacted"`
}

var fieldPatterns = []struct {
	kind     FieldKind
	pattern  *regexp.Regexp
	redact   bool
}{
	{FieldEmail, regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), false},
	{FieldURL, regexp.MustCompile(`https?://[^\s<>"']+`), false},
	{FieldSSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), true},
	{FieldCreditCard, regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), true},
	{FieldPhone, regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`), false},
	{FieldIP, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), false},
	{FieldDate, regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`), false},
	{FieldPrice, regexp.MustCompile(`[$€£]\s?\d+(?:,\d{3})*(?:\.\d{2})?`), false},
}

// redactValue keeps only the field kind's shape recognizable while hiding
// the actual digits, e.g. "***-**-1234" for an SSN.
func redactValue(kind FieldKind, value string) string {
	if len(value) <= 4 {
		return "****"
	}
	tail := value[len(value)-4:]
	switch kind {
	case FieldSSN:
		return "***-**-" + tail
	case FieldCreditCard:
		return "**** **** **** " + tail
	default:
		return "****" + tail
	}
}

// ExtractFields scans text with every registered pattern and returns all
// matches grouped by pattern, in fieldPatterns order, each group in
// document order, with SSN/credit-card matches redacted. A match that
// overlaps text already claimed by an earlier pattern is dropped.
// Credit-card matching runs after SSN so an SSN-shaped string isn't
// double-reported as a credit card digit run.
func ExtractFields(text string) []Field {
	var fields []Field
	consumed := make([]bool, len(text))

	for _, fp := range fieldPatterns {
		locs := fp.pattern.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			overlap := false
			for i := loc[0]; i < loc[1]; i++ {
				if consumed[i] {
					overlap = true
					break
				}
			}
			if overlap {
				continue
			}
			for i := loc[0]; i < loc[1]; i++ {
				consumed[i] = true
			}
			value := text[loc[0]:loc[1]]
			f := Field{Kind: fp.kind, Value: value}
			if fp.redact {
				f.Redacted = true
				f.Value = redactValue(fp.kind, value)
			}
			fields = append(fields, f)
		}
	}
	return fields
}
