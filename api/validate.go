package api

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

//PhoneRegexp matches Korean mobile numbers with optional hyphens
var PhoneRegexp = regexp.MustCompile(`^(010|011|016|017|018|019)-?\d{3,4}-?\d{4}$`)

//unsafeChars are characters rejected in free text that ends up in stored records or rendered markup
const unsafeChars = "<>'\"`;"

//FieldErrors maps a field name to a user-facing validation message
type FieldErrors map[string]string

//Add records msg for field, keeping the first message for a field
func (f FieldErrors) Add(field, msg string) {
	if _, ok := f[field]; ok {
		return
	}
	f[field] = msg
}

//Valid returns true if no errors were recorded
func (f FieldErrors) Valid() bool {
	return len(f) == 0
}

func (f FieldErrors) Error() string {
	fields := make([]string, 0, len(f))
	for k := range f {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	parts := make([]string, len(fields))
	for i, k := range fields {
		parts[i] = fmt.Sprintf("%s: %s", k, f[k])
	}
	return strings.Join(parts, "; ")
}

//ValidateString returns an error if the given value is not within the parameters
func ValidateString(field, value string, max int) error {
	if value == "" {
		return fmt.Errorf("%s must not be empty", field)
	} else if len(value) > max {
		return fmt.Errorf("%s length (%d) was more than maximum allowed (%d)", field, len(value), max)
	}
	return nil
}

//ContainsUnsafe returns true if value contains characters used for markup or query injection
func ContainsUnsafe(value string) bool {
	return strings.ContainsAny(value, unsafeChars)
}

//SanitizeText trims value and strips characters used for markup or query injection
func SanitizeText(value string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeChars, r) {
			return -1
		}
		return r
	}, strings.TrimSpace(value))
}

//ValidateSafeText returns an error if value is shorter than min or longer than max characters
//or contains characters used for markup or query injection
func ValidateSafeText(field, value string, min, max int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(value))
	switch {
	case n == 0:
		return fmt.Errorf("%s must not be empty", field)
	case n < min:
		return fmt.Errorf("%s must be at least %d characters", field, min)
	case n > max:
		return fmt.Errorf("%s must be at most %d characters", field, max)
	case ContainsUnsafe(value):
		return fmt.Errorf("%s must not contain any of %s", field, unsafeChars)
	}
	return nil
}

//ValidatePhone returns an error if value is not a valid mobile phone number
func ValidatePhone(value string) error {
	if !PhoneRegexp.MatchString(value) {
		return fmt.Errorf("phone number (%s) must look like 010-1234-5678", value)
	}
	digits := strings.ReplaceAll(value, "-", "")
	if len(digits) < 10 || len(digits) > 11 {
		return fmt.Errorf("phone number (%s) must have 10 or 11 digits", value)
	}
	return nil
}
