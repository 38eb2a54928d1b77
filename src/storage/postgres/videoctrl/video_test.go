package videoctrl_test

import (
	"testing"

	"zoopixie/src/storage/postgres/videoctrl"
)

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{videoctrl.StatusQueued, false},
		{videoctrl.StatusProcessing, false},
		{videoctrl.StatusSucceeded, true},
		{videoctrl.StatusFailed, true},
		{"TASK_STATUS_UNKNOWN", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := videoctrl.IsTerminal(tt.status); got != tt.want {
				t.Errorf("IsTerminal(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}
