// Package security provides PIN guidance and unlock attempt limiting.
// Guidance is advisory only: any PIN is accepted, weak ones just get
// warned about at setup time.
package security

import "strconv"

// PINStrength is the advisory strength level of a PIN.
type PINStrength int

const (
	// PINWeak marks trivially guessable PINs.
	PINWeak PINStrength = iota
	// PINFair marks short but unpatterned PINs.
	PINFair
	// PINGood marks six digits or more without obvious structure.
	PINGood
	// PINStrong marks long PINs or passphrases.
	PINStrong
)

// String returns a human-readable strength label.
func (s PINStrength) String() string {
	switch s {
	case PINWeak:
		return "Weak"
	case PINFair:
		return "Fair"
	case PINGood:
		return "Good"
	case PINStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// commonPINs are the most frequently chosen codes in breached-PIN corpora.
var commonPINs = map[string]bool{
	"0000": true, "1111": true, "1234": true, "4321": true,
	"1212": true, "2580": true, "6969": true, "4444": true,
	"2000": true, "1122": true, "1004": true, "7777": true,
	"123456": true, "654321": true, "111111": true, "000000": true,
	"121212": true, "112233": true,
}

// EvaluatePIN scores a PIN and collects warnings worth showing at setup.
// The PIN is assumed already normalized.
func EvaluatePIN(pin string) (PINStrength, []string) {
	var warnings []string

	if len(pin) < 4 {
		return PINWeak, []string{"shorter than 4 characters"}
	}
	if commonPINs[pin] {
		return PINWeak, []string{"among the most commonly used PINs"}
	}

	digits := isAllDigits(pin)
	if digits {
		if allSame(pin) {
			return PINWeak, []string{"single repeated digit"}
		}
		if isSequential(pin) {
			return PINWeak, []string{"sequential digits"}
		}
		if looksLikeYear(pin) {
			warnings = append(warnings, "looks like a year")
		}
		if isRepeatedPair(pin) {
			warnings = append(warnings, "repeating two-digit pattern")
		}
	}

	strength := byLength(len(pin), digits)
	if len(warnings) > 0 && strength > PINFair {
		strength = PINFair
	}
	return strength, warnings
}

// byLength maps length to strength. Non-digit PINs are passphrases and get
// credit earlier: their alphabet is far larger.
func byLength(length int, digits bool) PINStrength {
	if digits {
		switch {
		case length >= 10:
			return PINStrong
		case length >= 6:
			return PINGood
		default:
			return PINFair
		}
	}
	switch {
	case length >= 12:
		return PINStrong
	case length >= 8:
		return PINGood
	default:
		return PINFair
	}
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func allSame(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

// isSequential detects strictly ascending or descending digit runs.
func isSequential(s string) bool {
	asc, desc := true, true
	for i := 1; i < len(s); i++ {
		if s[i] != s[i-1]+1 {
			asc = false
		}
		if s[i] != s[i-1]-1 {
			desc = false
		}
	}
	return asc || desc
}

func looksLikeYear(s string) bool {
	if len(s) != 4 {
		return false
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return false
	}
	return year >= 1900 && year <= 2099
}

func isRepeatedPair(s string) bool {
	if len(s) < 4 || len(s)%2 != 0 {
		return false
	}
	pair := s[:2]
	if pair[0] == pair[1] {
		return false
	}
	for i := 2; i < len(s); i += 2 {
		if s[i:i+2] != pair {
			return false
		}
	}
	return true
}
