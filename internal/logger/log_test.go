package logger

import "testing"

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		log, err := New("debug", format)
		if err != nil {
			t.Fatalf("expected logger for %s, got %v", format, err)
		}
		_ = log.Sync()
	}
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected unknown level to error")
	}
}
