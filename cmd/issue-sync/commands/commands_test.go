package commands

import (
	"errors"
	"testing"

	"github.com/scott-cotton/cli"
	"github.com/signadot/issue-sync/issue"
	"github.com/signadot/issue-sync/merge"
)

func TestMode(t *testing.T) {
	tests := []struct {
		force, reset string
		want         merge.Mode
		usage        bool
	}{
		{"", "", merge.Mode{}, false},
		{"local", "", merge.Mode{Kind: merge.Force, Prefer: merge.Local}, false},
		{"", "r", merge.Mode{Kind: merge.Reset, Prefer: merge.Remote}, false},
		{"local", "remote", merge.Mode{}, true},
		{"", "theirs", merge.Mode{}, true},
	}
	for _, tt := range tests {
		got, err := mode(tt.force, tt.reset)
		if tt.usage {
			if !errors.Is(err, cli.ErrUsage) {
				t.Errorf("mode(%q, %q) = %v, want a usage error", tt.force, tt.reset, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("mode(%q, %q) = %v, %v, want %v", tt.force, tt.reset, got, err, tt.want)
		}
	}
}

func TestCloseState(t *testing.T) {
	tests := []struct {
		cfg   closeConfig
		want  issue.CloseState
		usage bool
	}{
		{closeConfig{}, issue.CloseState{Kind: issue.Closed}, false},
		{closeConfig{NotPlanned: true}, issue.CloseState{Kind: issue.NotPlanned}, false},
		{closeConfig{Duplicate: 4}, issue.CloseState{Kind: issue.Duplicate, Duplicate: 4}, false},
		{closeConfig{Reopen: true}, issue.CloseState{Kind: issue.Open}, false},
		{closeConfig{Reopen: true, Duplicate: 4}, issue.CloseState{}, true},
		{closeConfig{Duplicate: -1}, issue.CloseState{}, true},
	}
	for i, tt := range tests {
		got, err := tt.cfg.state()
		if tt.usage {
			if !errors.Is(err, cli.ErrUsage) {
				t.Errorf("%d: state() = %v, want a usage error", i, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%d: state() = %v, %v, want %v", i, got, err, tt.want)
		}
	}
}
