package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// bufLogger returns an uncolored, untimestamped logger writing to a buffer.
func bufLogger(level Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := New(&Config{Level: level})
	l.console = &buf
	return l, &buf
}

func TestLevelNames(t *testing.T) {
	tests := []struct {
		level Level
		name  string
		alias string
	}{
		{LevelDebug, "DEBUG", "debug"},
		{LevelInfo, "INFO", "info"},
		{LevelWarn, "WARN", "warning"},
		{LevelError, "ERROR", "error"},
		{LevelFatal, "FATAL", "fatal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			if got := ParseLevel(tt.name); got != tt.level {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.level)
			}
			if got := ParseLevel(tt.alias); got != tt.level {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.alias, got, tt.level)
			}
		})
	}

	if got := ParseLevel("nonsense"); got != LevelInfo {
		t.Errorf("ParseLevel(nonsense) = %v, want LevelInfo", got)
	}
	if got := Level(99).String(); got != "UNKNOWN" {
		t.Errorf("Level(99).String() = %q, want UNKNOWN", got)
	}
}

func TestConsoleOutput(t *testing.T) {
	l, buf := bufLogger(LevelDebug)

	l.Info("compiled %d personas", 5)

	got := buf.String()
	if !strings.Contains(got, "INFO") || !strings.Contains(got, "compiled 5 personas") {
		t.Errorf("unexpected output: %q", got)
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := bufLogger(LevelWarn)

	l.Debug("noise")
	l.Info("noise")
	l.Warn("kept warn")
	l.Error("kept error")

	got := buf.String()
	if strings.Contains(got, "noise") {
		t.Errorf("sub-threshold lines leaked: %q", got)
	}
	for _, want := range []string{"kept warn", "kept error"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in output: %q", want, got)
		}
	}
}

func TestChildLoggersDoNotShareState(t *testing.T) {
	parent, buf := bufLogger(LevelDebug)

	child := parent.WithComponent("router").WithField("channel", "dev")
	child.Info("selected")
	if got := buf.String(); !strings.Contains(got, "[router]") || !strings.Contains(got, "channel=dev") {
		t.Fatalf("child output missing tags: %q", got)
	}

	buf.Reset()
	parent.Info("plain")
	if got := buf.String(); strings.Contains(got, "router") || strings.Contains(got, "channel") {
		t.Errorf("parent inherited child state: %q", got)
	}
}

func TestFieldsRenderSorted(t *testing.T) {
	l, buf := bufLogger(LevelDebug)

	l.WithFields(map[string]interface{}{
		"persona": "onyx",
		"channel": "dev",
		"score":   180,
	}).Info("routed")

	want := "{channel=dev, persona=onyx, score=180}"
	if got := buf.String(); !strings.Contains(got, want) {
		t.Errorf("fields block in %q, want substring %q", got, want)
	}
}

func TestTraceLogsEntryAndExit(t *testing.T) {
	l, buf := bufLogger(LevelDebug)

	done := l.Trace("Compile")
	done()

	got := buf.String()
	if !strings.Contains(got, "→ Compile") || !strings.Contains(got, "← Compile") {
		t.Errorf("trace markers missing: %q", got)
	}
}

func TestFileOutputStripsColor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "troupe.log")

	l := New(&Config{Level: LevelDebug, Colored: true, FilePath: path})
	l.console = &bytes.Buffer{}

	l.Info("persisted line")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "persisted line") {
		t.Errorf("log line not mirrored to file: %q", data)
	}
	if strings.Contains(string(data), "\033[") {
		t.Error("file output should have ANSI codes stripped")
	}
}

func TestGlobalSwap(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	l, buf := bufLogger(LevelDebug)
	SetGlobal(l)

	Info("through the global")
	if !strings.Contains(buf.String(), "through the global") {
		t.Errorf("global logger not swapped: %q", buf.String())
	}

	SetLevel(LevelError)
	buf.Reset()
	Info("now below threshold")
	if strings.Contains(buf.String(), "now below threshold") {
		t.Errorf("SetLevel did not apply: %q", buf.String())
	}
}

func TestStripANSI(t *testing.T) {
	in := "\033[32mINFO\033[0m hello"
	if got := stripANSI(in); got != "INFO hello" {
		t.Errorf("stripANSI() = %q, want %q", got, "INFO hello")
	}
}
