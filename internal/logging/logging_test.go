package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestForJobAttachesUdPath(t *testing.T) {
	logger := ForJob("rel/extracted/0-10")
	if logger == slog.Default() {
		t.Fatalf("ForJob should return a logger distinct from the default")
	}
}

func TestContextRoundTrip(t *testing.T) {
	logger := ForJob("rel/a")
	ctx := WithContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatalf("FromContext did not return the attached logger")
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Fatalf("FromContext on a bare context should return the process default")
	}
}
