package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true},
		{name: "warn level", level: "WARN", debugEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level, "dispatch-api")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if logger == nil {
				t.Fatal("logger should not be nil")
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("not-a-level", "")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestRequestID_ContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithRequestID(context.Background(), "req-123")
	requestID, ok := RequestIDFromContext(ctx)
	if !ok || requestID != "req-123" {
		t.Fatalf("request id=%q ok=%v, want=%q", requestID, ok, "req-123")
	}

	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Fatal("expected request id to be missing")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	WithContextLogger(baseLogger, WithRequestID(context.Background(), "req-789")).Info("tagged")
	WithContextLogger(baseLogger, context.Background()).Info("untagged")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries=%d, want=2", len(entries))
	}
	if got := entries[0].ContextMap()["requestId"]; got != "req-789" {
		t.Fatalf("requestId=%v, want=%q", got, "req-789")
	}
	if _, ok := entries[1].ContextMap()["requestId"]; ok {
		t.Fatal("expected requestId field to be absent")
	}

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		id, _ := RequestIDFromContext(c.UserContext())
		return c.SendString(id)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if got := resp.Header.Get(RequestIDHeader); got != "req-abc" {
		t.Fatalf("echoed header=%q, want=%q", got, "req-abc")
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Fatal("expected generated request id")
	}
}
