// Package cnj validates and normalizes Brazilian unified judicial process
// numbers (NNNNNNN-DD.AAAA.J.TR.OOOO).
package cnj

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	formatted = regexp.MustCompile(`^\d{7}-\d{2}\.\d{4}\.\d\.\d{2}\.\d{4}$`)
	stripped  = regexp.MustCompile(`[^\d.-]`)
)

// ErrInvalid is returned when a number fails the format or check digits.
var ErrInvalid = errors.New("invalid CNJ number")

// Valid reports whether number is a well-formed CNJ number whose check
// digits match.
func Valid(number string) bool {
	number = strings.TrimSpace(number)
	if !formatted.MatchString(number) {
		return false
	}
	digits := Digits(number)
	want, err := CheckDigits(digits[:7] + digits[9:])
	if err != nil {
		return false
	}
	return digits[7:9] == want
}

// Digits strips every non-digit rune.
func Digits(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CheckDigits computes the two verification digits for the 18 digits
// NNNNNNN AAAA J TR OOOO (ISO 7064 MOD 97-10).
func CheckDigits(base string) (string, error) {
	if len(base) != 18 {
		return "", fmt.Errorf("%w: expected 18 digits, got %d", ErrInvalid, len(base))
	}
	rem, err := mod97(base + "00")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d", 98-rem), nil
}

// mod97 reduces a decimal string modulo 97 one digit at a time; 20 digits
// overflow uint64.
func mod97(digits string) (int, error) {
	rem := 0
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: non-digit %q", ErrInvalid, r)
		}
		rem = (rem*10 + int(r-'0')) % 97
	}
	return rem, nil
}

// Format renders 20 bare digits in the dashed CNJ layout.
func Format(digits string) (string, error) {
	if len(digits) != 20 || Digits(digits) != digits {
		return "", fmt.Errorf("%w: expected 20 digits", ErrInvalid)
	}
	return digits[:7] + "-" + digits[7:9] + "." + digits[9:13] + "." +
		digits[13:14] + "." + digits[14:16] + "." + digits[16:], nil
}

// Normalize cleans surrounding noise, formats bare 20-digit input, and
// returns the canonical form of a valid number.
func Normalize(number string) (string, error) {
	cleaned := stripped.ReplaceAllString(strings.TrimSpace(number), "")
	if len(cleaned) == 20 && Digits(cleaned) == cleaned {
		var err error
		if cleaned, err = Format(cleaned); err != nil {
			return "", err
		}
	}
	if !Valid(cleaned) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, number)
	}
	return cleaned, nil
}

// Build assembles a valid number from its parts, computing the check digits.
func Build(sequence, year, segment, court, origin string) (string, error) {
	base := sequence + year + segment + court + origin
	dd, err := CheckDigits(base)
	if err != nil {
		return "", err
	}
	return Format(sequence + dd + year + segment + court + origin)
}

// ValidateList splits numbers into normalized valid entries (input order,
// duplicates removed) and the raw invalid ones.
func ValidateList(numbers []string) (valid, invalid []string) {
	seen := make(map[string]struct{}, len(numbers))
	for _, raw := range numbers {
		norm, err := Normalize(raw)
		if err != nil {
			invalid = append(invalid, raw)
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		valid = append(valid, norm)
	}
	return valid, invalid
}
