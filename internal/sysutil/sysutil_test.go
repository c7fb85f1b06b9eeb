package sysutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":     zerolog.DebugLevel,
		"  DeBuG  ": zerolog.DebugLevel,
		"":          zerolog.InfoLevel,
		"warning":   zerolog.WarnLevel,
		"error":     zerolog.ErrorLevel,
		"fatal":     zerolog.FatalLevel,
		"panic":     zerolog.PanicLevel,
		"verbose":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v; want %v", in, got, want)
		}
	}

	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })
	SetLogLevel("warn")
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("global level not applied")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, false, "newsletterd", "worker")
	log.Info().Msg("started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON line, got %q", buf.String())
	}
	if line["service"] != "newsletterd" || line["mode"] != "worker" || line["message"] != "started" {
		t.Fatalf("unexpected fields: %v", line)
	}

	buf.Reset()
	pretty := NewLogger(&buf, true, "newsletterd", "api")
	pretty.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestIsTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on"} {
		if !IsTruthy(v) {
			t.Fatalf("IsTruthy(%q) = false", v)
		}
	}
	for _, v := range []string{"", "0", "false", "no", "off", "  ", "maybe"} {
		if IsTruthy(v) {
			t.Fatalf("IsTruthy(%q) = true", v)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("no args: %q", got)
	}
	if got := FirstNonEmpty(" ", "\t"); got != "" {
		t.Fatalf("blanks: %q", got)
	}
	if got := FirstNonEmpty("", " v1.2.0 ", "dev"); got != " v1.2.0 " {
		t.Fatalf("got %q", got)
	}
}
