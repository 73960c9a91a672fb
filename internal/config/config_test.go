package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s1control.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
database = "/srv/einsatz/einsatz.sqlite"
open_retries = 6

[presence]
interval = "2s"
stale_after = "20s"

[backup]
enabled = false
interval = "30s"
min_spacing = "10m"

[audit]
dsns = ["postgres://audit@server/audit", "sqlite:///tmp/mirror.db"]

[server]
listen = ":9000"
base_path = "/control"

[log]
dir = "/var/log/s1control"
level = "debug"
max_size_mb = 5
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Database != "/srv/einsatz/einsatz.sqlite" || c.OpenRetries != 6 {
		t.Errorf("base fields = %q/%d", c.Database, c.OpenRetries)
	}
	if c.Presence.Interval != 2*time.Second || c.Presence.StaleAfter != 20*time.Second {
		t.Errorf("presence = %+v", c.Presence)
	}
	if c.Backup.Enabled || c.Backup.MinSpacing != 10*time.Minute {
		t.Errorf("backup = %+v", c.Backup)
	}
	if len(c.Audit.DSNs) != 2 {
		t.Errorf("audit DSNs = %v", c.Audit.DSNs)
	}
	if c.Server.Listen != ":9000" || c.Server.BasePath != "/control" {
		t.Errorf("server = %+v", c.Server)
	}
	if c.Log.Level != "debug" || c.Log.MaxSizeMB != 5 {
		t.Errorf("log = %+v", c.Log)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `database = "einsatz.sqlite"`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Default()
	if c.Presence.Interval != d.Presence.Interval {
		t.Errorf("presence interval = %v, want default %v", c.Presence.Interval, d.Presence.Interval)
	}
	if c.Backup.MinSpacing != d.Backup.MinSpacing {
		t.Errorf("backup spacing = %v, want default %v", c.Backup.MinSpacing, d.Backup.MinSpacing)
	}
	if !c.Backup.Enabled {
		t.Error("backups should default to enabled")
	}
	if c.Server.Listen != d.Server.Listen {
		t.Errorf("listen = %q", c.Server.Listen)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing database", `[presence]` + "\n" + `interval = "5s"`},
		{"stale below interval", "database = \"x.sqlite\"\n[presence]\ninterval = \"30s\"\nstale_after = \"5s\""},
		{"zero backup interval", "database = \"x.sqlite\"\n[backup]\ninterval = \"0s\""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Errorf("config accepted: %s", tc.body)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
