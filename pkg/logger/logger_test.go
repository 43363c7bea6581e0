package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerErrorIncludesContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf})

	ctx := context.Background()
	ctx = log.WithRequestID(ctx, "req-123")
	ctx = log.WithOrderID(ctx, "order-1")

	log.Error(ctx, "boom", errors.New("boom"))

	for _, field := range []string{`"request_id":"req-123"`, `"order_id":"order-1"`, `"stack"`} {
		if !bytes.Contains(buf.Bytes(), []byte(field)) {
			t.Fatalf("expected %s in entry=%s", field, buf.String())
		}
	}
}

func TestLoggerWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Level: ParseLevel("debug"), Output: buf, WarnStack: true})
	log.Warn(context.Background(), "warny")
	if !bytes.Contains(buf.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("expected stack when warn stack enabled")
	}

	buf.Reset()
	quiet := New(Options{ServiceName: "test", Output: buf})
	quiet.Warn(context.Background(), "warny")
	if bytes.Contains(buf.Bytes(), []byte(`"stack"`)) {
		t.Fatalf("stack must be omitted when warn stack is disabled")
	}
}

func TestParseLevelDefaults(t *testing.T) {
	if lvl := ParseLevel(""); lvl != zerolog.InfoLevel {
		t.Fatalf("expected default info level, got %v", lvl)
	}
	if lvl := ParseLevel("invalid"); lvl != zerolog.InfoLevel {
		t.Fatalf("invalid level should fallback to info, got %v", lvl)
	}
	if lvl := ParseLevel("WARN"); lvl != zerolog.WarnLevel {
		t.Fatalf("expected warn, got %v", lvl)
	}
}

func TestWithFieldsDoesNotLeakIntoParentContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	parent := context.Background()
	_ = log.WithProvider(parent, "razorpay")
	log.Info(parent, "plain")

	if bytes.Contains(buf.Bytes(), []byte(`"provider"`)) {
		t.Fatalf("parent context should not carry child fields: %s", buf.String())
	}
}

func TestFieldsAreScrubbed(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "test", Output: buf})

	ctx := log.WithFields(context.Background(), map[string]any{
		"webhook_secret": "whsec_live",
		"customer_phone": "+91 98765 43210",
		"order_id":       "ord-9",
	})
	ctx = log.WithField(ctx, "razorpay_signature", "abc123")
	log.Info(ctx, "scrubbed")

	out := buf.String()
	for _, leaked := range []string{"whsec_live", "98765", "abc123"} {
		if bytes.Contains(buf.Bytes(), []byte(leaked)) {
			t.Fatalf("expected %q to be scrubbed: %s", leaked, out)
		}
	}
	for _, kept := range []string{`"customer_phone":"********3210"`, `"order_id":"ord-9"`} {
		if !bytes.Contains(buf.Bytes(), []byte(kept)) {
			t.Fatalf("expected %s in %s", kept, out)
		}
	}
}

func TestMaskPhoneShortValues(t *testing.T) {
	if got := maskPhone("123"); got != redacted {
		t.Fatalf("expected short phone fully redacted, got %q", got)
	}
}
