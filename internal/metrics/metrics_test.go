package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"", "ok"},
		{"did not converge", "not_converged"},
		{"negative continuum", "negative_continuum"},
		{"something else", "other"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.reason); got != tt.want {
			t.Errorf("Outcome(%q) = %q, want %q", tt.reason, got, tt.want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	ForestsProcessed.Add(3)
	ContinuumFitsTotal.WithLabelValues("ok").Inc()

	path := filepath.Join(t.TempDir(), "lyadelta.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	for _, name := range []string{"lyadelta_forests_processed_total", "lyadelta_continuum_fits_total"} {
		if !strings.Contains(string(data), name) {
			t.Errorf("textfile missing %s", name)
		}
	}
}

func TestWriteTextfileEmptyPath(t *testing.T) {
	if err := WriteTextfile(""); err != nil {
		t.Errorf("WriteTextfile(\"\") = %v, want nil", err)
	}
}
