// Package isbn validates ISBN-10 and ISBN-13 identifiers before any network
// work is spent on them.
package isbn

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmpty    = errors.New("isbn: empty identifier")
	ErrFormat   = errors.New("isbn: malformed identifier")
	ErrChecksum = errors.New("isbn: checksum mismatch")
)

var (
	prefixPattern = regexp.MustCompile(`^(?i:ISBN(?:-1[03])?:?\s?)`)
	shapePattern  = regexp.MustCompile(`^[0-9Xx]+(?:[- ][0-9Xx]+)*$`)
)

// Validate checks id and returns its canonical form: digits only, with a
// trailing X kept (upper-cased) for ISBN-10. An optional "ISBN", "ISBN-10" or "ISBN-13"
// prefix is accepted. Separators must be consistent hyphens or spaces
// grouping the number into the standard number of parts.
func Validate(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmpty
	}

	body := prefixPattern.ReplaceAllString(id, "")
	if !shapePattern.MatchString(body) {
		return "", ErrFormat
	}
	if strings.Contains(body, "-") && strings.Contains(body, " ") {
		return "", ErrFormat
	}

	groups := strings.FieldsFunc(body, func(r rune) bool { return r == '-' || r == ' ' })
	digits := strings.ToUpper(strings.Join(groups, ""))

	switch len(digits) {
	case 10:
		if len(groups) != 1 && len(groups) != 4 {
			return "", ErrFormat
		}
		if strings.IndexByte(digits[:9], 'X') >= 0 {
			return "", ErrFormat
		}
		if !checksum10(digits) {
			return "", ErrChecksum
		}
	case 13:
		if len(groups) != 1 && len(groups) != 5 {
			return "", ErrFormat
		}
		if strings.IndexByte(digits, 'X') >= 0 {
			return "", ErrFormat
		}
		if !strings.HasPrefix(digits, "978") && !strings.HasPrefix(digits, "979") {
			return "", ErrFormat
		}
		if !checksum13(digits) {
			return "", ErrChecksum
		}
	default:
		return "", ErrFormat
	}

	return digits, nil
}

// IsValid is a convenience wrapper around Validate.
func IsValid(id string) bool {
	_, err := Validate(id)
	return err == nil
}

func checksum10(d string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		v := int(d[i] - '0')
		if d[i] == 'X' {
			v = 10
		}
		sum += v * (10 - i)
	}
	return sum%11 == 0
}

func checksum13(d string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		v := int(d[i] - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}
