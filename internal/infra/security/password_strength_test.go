package security

import (
	"testing"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

func TestPasswordWarningsStrongPassword(t *testing.T) {
	password := "C0mplex!Passphrase#2025"
	if strength := zxcvbn.PasswordStrength(password, nil); strength.Score < MinPasswordScore {
		t.Fatalf("test password unexpectedly weak: score=%d", strength.Score)
	}

	if warnings := PasswordWarnings(password); len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestPasswordWarningsWeakPassword(t *testing.T) {
	warnings := PasswordWarnings("password")
	if len(warnings) != 1 {
		t.Fatalf("expected one warning for weak password, got %v", warnings)
	}
}

func TestPasswordStrengthPenalisesUserInputs(t *testing.T) {
	if score := PasswordStrength("jonathan.smith", "jonathan.smith"); score >= MinPasswordScore {
		t.Fatalf("expected password equal to user input to score low, got %d", score)
	}
}
