package common

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestSeverityString(t *testing.T) {
	tests := []struct {
		severity Severity
		expected string
	}{
		{SeverityDebug, "DEBUG"},
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityError, "ERROR"},
		{Severity(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.expected {
				t.Errorf("Severity.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"debug", SeverityDebug, false},
		{"INFO", SeverityInfo, false},
		{"", SeverityInfo, false},
		{" warn ", SeverityWarning, false},
		{"warning", SeverityWarning, false},
		{"error", SeverityError, false},
		{"loud", SeverityInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseSeverity(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSeverity(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseSeverity(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStdLogger_Log(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := NewStdLoggerWithWriter(&stdout, &stderr, SeverityDebug)

	tests := []struct {
		name     string
		severity Severity
		message  string
		checkOut bool // true for stdout, false for stderr
	}{
		{"Debug", SeverityDebug, "debug message", true},
		{"Info", SeverityInfo, "info message", true},
		{"Warning", SeverityWarning, "warning message", true},
		{"Error", SeverityError, "error message", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout.Reset()
			stderr.Reset()

			logger.Log(tt.severity, tt.message)

			output := stderr.String()
			if tt.checkOut {
				output = stdout.String()
			}
			if !strings.Contains(output, tt.message) {
				t.Errorf("Log output should contain %q, got: %s", tt.message, output)
			}
			if !strings.Contains(output, tt.severity.String()) {
				t.Errorf("Log output should contain severity %q, got: %s", tt.severity.String(), output)
			}
		})
	}
}

func TestStdLogger_MinLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger := NewStdLoggerWithWriter(&stdout, &stderr, SeverityWarning)

	logger.Debug("hidden debug")
	logger.Info("hidden info")
	logger.Logf(SeverityInfo, "hidden %d", 3)
	logger.Warning("shown warning")
	logger.Error(errors.New("shown error"))
	logger.Error(nil)

	if strings.Contains(stdout.String(), "hidden") {
		t.Errorf("messages below min level were logged: %s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "shown warning") {
		t.Errorf("warning missing: %s", stdout.String())
	}
	if strings.Count(stderr.String(), "ERROR") != 1 {
		t.Errorf("expected exactly one error line, got: %s", stderr.String())
	}
}

func TestOrNoOp(t *testing.T) {
	if _, ok := OrNoOp(nil).(*NoOpLogger); !ok {
		t.Errorf("OrNoOp(nil) should return a NoOpLogger")
	}
	l := NewStdLogger(SeverityError)
	if OrNoOp(l) != Logger(l) {
		t.Errorf("OrNoOp(l) should return l")
	}
}
