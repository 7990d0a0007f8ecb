package env

import (
	"testing"
	"time"
)

func TestGetString(t *testing.T) {
	t.Setenv("PARLEY_TEST_STRING", "value")

	if got := GetString("PARLEY_TEST_STRING", "fallback"); got != "value" {
		t.Errorf("GetString = %q, want %q", got, "value")
	}
	if got := GetString("PARLEY_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("GetString(missing) = %q, want %q", got, "fallback")
	}
}

func TestGetIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("PARLEY_TEST_INT", "not-a-number")

	if got := GetInt("PARLEY_TEST_INT", 7); got != 7 {
		t.Errorf("GetInt = %d, want 7", got)
	}

	t.Setenv("PARLEY_TEST_INT", "42")
	if got := GetInt("PARLEY_TEST_INT", 7); got != 42 {
		t.Errorf("GetInt = %d, want 42", got)
	}
}

func TestGetDuration(t *testing.T) {
	t.Setenv("PARLEY_TEST_DURATION", "1500ms")

	if got := GetDuration("PARLEY_TEST_DURATION", time.Second); got != 1500*time.Millisecond {
		t.Errorf("GetDuration = %v, want 1.5s", got)
	}
	if got := GetBool("PARLEY_TEST_BOOL_MISSING", true); !got {
		t.Error("GetBool(missing) should return the fallback")
	}
}
