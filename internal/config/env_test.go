package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestGetEnvString(t *testing.T) {
	t.Setenv("RIVER_TEST_STRING", "from-env")
	if got := GetEnvString("RIVER_TEST_STRING", "fallback"); got != "from-env" {
		t.Errorf("Expected the environment value, got: %s", got)
	}
	if got := GetEnvString("RIVER_TEST_STRING_ABSENT", "fallback"); got != "fallback" {
		t.Errorf("Expected the default, got: %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("RIVER_TEST_INT", "42")
	if got := GetEnvInt("RIVER_TEST_INT", 7); got != 42 {
		t.Errorf("Expected 42, got: %d", got)
	}

	t.Setenv("RIVER_TEST_INT_BAD", "forty-two")
	if got := GetEnvInt("RIVER_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("Expected the default for an unparsable value, got: %d", got)
	}

	if got := GetEnvInt("RIVER_TEST_INT_ABSENT", 7); got != 7 {
		t.Errorf("Expected the default, got: %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("RIVER_TEST_BOOL", "true")
	if !GetEnvBool("RIVER_TEST_BOOL", false) {
		t.Error("Expected true from the environment")
	}

	t.Setenv("RIVER_TEST_BOOL_BAD", "yep")
	if GetEnvBool("RIVER_TEST_BOOL_BAD", false) {
		t.Error("Expected the default for an unparsable value")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("RIVER_TEST_DUR_UNITS", "90s")
	if got := GetEnvDuration("RIVER_TEST_DUR_UNITS", time.Minute); got != 90*time.Second {
		t.Errorf("Expected 90s, got: %v", got)
	}

	// A bare number reads as minutes.
	t.Setenv("RIVER_TEST_DUR_BARE", "30")
	if got := GetEnvDuration("RIVER_TEST_DUR_BARE", time.Minute); got != 30*time.Minute {
		t.Errorf("Expected 30m, got: %v", got)
	}

	t.Setenv("RIVER_TEST_DUR_BAD", "soon")
	if got := GetEnvDuration("RIVER_TEST_DUR_BAD", time.Minute); got != time.Minute {
		t.Errorf("Expected the default for an unparsable value, got: %v", got)
	}

	if got := GetEnvDuration("RIVER_TEST_DUR_ABSENT", time.Minute); got != time.Minute {
		t.Errorf("Expected the default, got: %v", got)
	}
}

func TestGetEnvLogLevel(t *testing.T) {
	t.Setenv("RIVER_TEST_LEVEL", "debug")
	if got := GetEnvLogLevel("RIVER_TEST_LEVEL", zerolog.InfoLevel); got != zerolog.DebugLevel {
		t.Errorf("Expected debug, got: %v", got)
	}

	t.Setenv("RIVER_TEST_LEVEL_BAD", "chatty")
	if got := GetEnvLogLevel("RIVER_TEST_LEVEL_BAD", zerolog.InfoLevel); got != zerolog.InfoLevel {
		t.Errorf("Expected the default for an unknown level, got: %v", got)
	}
}
