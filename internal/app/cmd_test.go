package app

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"未知のコマンドはserve", []string{"unknown"}, CommandServe},
		{"余分な引数は無視", []string{"worker", "--flag", "value"}, CommandWorker},
		{"大文字は区別する", []string{"WORKER"}, CommandServe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestUsage_ListsAllCommands(t *testing.T) {
	usage := Usage("storyapi")

	if !strings.HasPrefix(usage, "usage: storyapi [command]") {
		t.Errorf("usage header = %q", strings.SplitN(usage, "\n", 2)[0])
	}
	for _, c := range []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck} {
		if !strings.Contains(usage, string(c)) {
			t.Errorf("usage should mention %q", c)
		}
	}
}
