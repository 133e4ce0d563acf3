package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	if versionCmd == nil {
		t.Fatal("versionCmd is nil")
	}

	if versionCmd.Use != "version" {
		t.Errorf("Unexpected Use: %s", versionCmd.Use)
	}

	var buf bytes.Buffer
	originalStdout := versionCmd.OutOrStdout()
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(originalStdout)

	if err := versionCmd.RunE(versionCmd, []string{}); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "lexext version") {
		t.Errorf("version output does not contain 'lexext version'. Output:\n%s", output)
	}
	if !strings.Contains(output, "commit:") {
		t.Errorf("version output does not contain 'commit:'. Output:\n%s", output)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := []string{
		"extract", "route", "audit",
		"enqueue", "worker",
		"patterns", "cache",
		"auth", "config", "version", "completion",
	}

	registered := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}

	for _, name := range want {
		if !registered[name] {
			t.Errorf("subcommand %q not registered on root", name)
		}
	}
}

func TestConfigSetRejectsUnknownKey(t *testing.T) {
	err := configSetCmd.RunE(configSetCmd, []string{"no.such.key", "value"})
	if err == nil {
		t.Fatal("expected error for unknown configuration key")
	}
	if !strings.Contains(err.Error(), "unknown configuration key") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValueOrDefault(t *testing.T) {
	if got := valueOrDefault("", "(not set)"); got != "(not set)" {
		t.Errorf("empty value: got %q", got)
	}
	if got := valueOrDefault("redis:6379", "(not set)"); got != "redis:6379" {
		t.Errorf("non-empty value: got %q", got)
	}
}
