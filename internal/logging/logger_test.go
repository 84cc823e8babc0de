package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewParsesLevel(t *testing.T) {
	logger, err := New("production", "WARN")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("level = %v, want warn", logger.GetLevel())
	}

	if _, err := New("local", "loud"); err == nil {
		t.Fatalf("unknown level should fail")
	}
}
