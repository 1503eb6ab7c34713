package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestAdminCommandsRunAgainstLocalStore(t *testing.T) {
	t.Setenv("TASKFLOW_STORE_URL", filepath.Join(t.TempDir(), "taskflow.db"))
	t.Setenv("TASKFLOW_STORE_SERVICE_KEY", "service-role-key")
	t.Setenv("TASKFLOW_IDENTITY_URL", "")
	t.Setenv("SUPABASE_URL", "")
	t.Cleanup(viper.Reset)

	output := runCommand(t, "bootstrap-admin", "--email", "Root@Example.com", "--username", "root", "--password", "secret1")
	if !strings.HasPrefix(output, "created admin ") {
		t.Fatalf("unexpected bootstrap output %q", output)
	}

	output = runCommand(t, "repair-admin-role", "--username", "root")
	if !strings.Contains(output, "is already an admin") {
		t.Fatalf("unexpected repair output %q", output)
	}

	output = runCommand(t, "list-users")
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "USERNAME") {
		t.Fatalf("unexpected listing %q", output)
	}
	if fields := strings.Fields(lines[1]); len(fields) != 3 || fields[0] != "root" || fields[2] != "admin" {
		t.Fatalf("unexpected listing row %q", lines[1])
	}
}

func TestRepairAdminRoleReportsUnknownUsername(t *testing.T) {
	t.Setenv("TASKFLOW_STORE_URL", filepath.Join(t.TempDir(), "taskflow.db"))
	t.Setenv("TASKFLOW_STORE_SERVICE_KEY", "service-role-key")
	t.Setenv("TASKFLOW_IDENTITY_URL", "")
	t.Setenv("SUPABASE_URL", "")
	t.Cleanup(viper.Reset)

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"repair-admin-role", "--username", "ghost", "--env-file", ""})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected an error for an unknown username")
	}
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(args, "--env-file", ""))
	if err := cmd.Execute(); err != nil {
		t.Fatalf("%s failed: %v", args[0], err)
	}
	return out.String()
}
