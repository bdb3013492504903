package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog/log"
)

func TestInitWritesFileAndConsole(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "view.log")
	if err := Init(Options{Level: "debug", File: file, Console: &console, MaxSizeMB: 1}); err != nil {
		t.Fatal(err)
	}

	log.Debug().Int("page", 3).Msg("rendered page")
	l := With("session", "abc")
	l.Info().Msg("opened")
	Close()

	lines := strings.Split(strings.TrimSpace(console.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("console lines = %d: %q", len(lines), console.String())
	}
	var ev map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev["session"] != "abc" || ev["service"] != Service || ev["level"] != "info" {
		t.Fatalf("event = %v", ev)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"page":3`) {
		t.Fatalf("file = %s", data)
	}
}

func TestInitLevelFallback(t *testing.T) {
	var console bytes.Buffer
	if err := Init(Options{Level: "chatty", Console: &console}); err != nil {
		t.Fatal(err)
	}
	defer Close()
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	if out := console.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("output = %q", out)
	}
}
