package security

import (
	"fmt"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// MinPasswordScore is the zxcvbn score below which a password draws a warning.
const MinPasswordScore = 3

// PasswordStrength reports the zxcvbn score (0-4) for password, penalising reuse of userInputs.
func PasswordStrength(password string, userInputs ...string) int {
	if password == "" {
		return 0
	}
	return zxcvbn.PasswordStrength(password, userInputs).Score
}

// PasswordWarnings returns advisory messages for weak passwords. It never rejects a password.
func PasswordWarnings(password string, userInputs ...string) []string {
	if password == "" {
		return nil
	}

	score := PasswordStrength(password, userInputs...)
	if score >= MinPasswordScore {
		return nil
	}

	return []string{fmt.Sprintf("password strength is weak (score %d of 4); choose a longer or less predictable value", score)}
}
