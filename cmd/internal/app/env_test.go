package app

import (
	"testing"
	"time"
)

func TestEnvHelpers_FallBackOnBlankAndGarbage(t *testing.T) {
	t.Setenv("TETHER_TEST_STR", "  ")
	t.Setenv("TETHER_TEST_BOOL", "not-a-bool")
	t.Setenv("TETHER_TEST_INT", "-5")
	t.Setenv("TETHER_TEST_DUR", "soon")

	if got := EnvString("TETHER_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("EnvString = %q", got)
	}
	if got := EnvBool("TETHER_TEST_BOOL", true); !got {
		t.Fatalf("EnvBool must fall back to true")
	}
	if got := EnvInt("TETHER_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt = %d", got)
	}
	if got := EnvDuration("TETHER_TEST_DUR", time.Minute); got != time.Minute {
		t.Fatalf("EnvDuration = %v", got)
	}
}

func TestEnvHelpers_ParseSetValues(t *testing.T) {
	t.Setenv("TETHER_TEST_STR", " value ")
	t.Setenv("TETHER_TEST_BOOL", "true")
	t.Setenv("TETHER_TEST_INT", "42")
	t.Setenv("TETHER_TEST_INT32", "0")
	t.Setenv("TETHER_TEST_DUR", "90s")

	if got := EnvString("TETHER_TEST_STR", ""); got != "value" {
		t.Fatalf("EnvString = %q, want trimmed value", got)
	}
	if !EnvBool("TETHER_TEST_BOOL", false) {
		t.Fatalf("EnvBool must parse true")
	}
	if got := EnvInt("TETHER_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt = %d", got)
	}
	if got := EnvInt32("TETHER_TEST_INT32", 10); got != 0 {
		t.Fatalf("EnvInt32 = %d, want explicit 0", got)
	}
	if got := EnvDuration("TETHER_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration = %v", got)
	}
}
