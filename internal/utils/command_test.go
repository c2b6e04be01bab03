package utils

import (
	"testing"
)

type tunnelArgs struct {
	LocalPort  int
	RemotePort int
	Target     string
}

/**
 * Test command line template expansion
 * @param {*testing.T} t - Testing framework instance
 * @description
 * - Template placeholders expand against the given data struct
 * - Literal arguments pass through unchanged
 */
func TestGetCommandLine(t *testing.T) {
	data := tunnelArgs{
		LocalPort:  8080,
		RemotePort: 30080,
		Target:     "tunnel@relay.example.com",
	}
	command, args, err := GetCommandLine("ssh", []string{
		"-N", "-T",
		"-o", "ExitOnForwardFailure=yes",
		"-R", "{{.RemotePort}}:0.0.0.0:{{.LocalPort}}",
		"{{.Target}}",
	}, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if command != "ssh" {
		t.Errorf("command = %q", command)
	}
	want := []string{"-N", "-T", "-o", "ExitOnForwardFailure=yes", "-R", "30080:0.0.0.0:8080", "tunnel@relay.example.com"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestGetCommandLineBadTemplate(t *testing.T) {
	if _, _, err := GetCommandLine("ssh", []string{"{{.Missing"}, tunnelArgs{}); err == nil {
		t.Error("expected error for malformed template")
	}
}
