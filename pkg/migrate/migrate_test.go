package migrate

import (
	"reflect"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		fs := fstest.MapFS{
			"migrations/0001_create_failed_event.up.sql":   {Data: []byte("CREATE TABLE failed_event (id BIGINT)")},
			"migrations/0001_create_failed_event.down.sql": {Data: []byte("DROP TABLE failed_event")},
			"migrations/0002_attempt_tracking.up.sql":      {Data: []byte("ALTER TABLE failed_event ADD COLUMN attempt_count INT")},
		}
		migrations, err := loadMigrations(fs, "migrations")
		if err != nil {
			t.Fatalf("loadMigrations() error = %v", err)
		}
		if len(migrations) != 2 {
			t.Fatalf("got %d migrations, want 2", len(migrations))
		}
		if migrations[0].Version != 1 || migrations[1].Version != 2 {
			t.Errorf("versions = [%d, %d], want [1, 2]", migrations[0].Version, migrations[1].Version)
		}
		if migrations[0].Name != "create_failed_event" {
			t.Errorf("name = %q, want create_failed_event", migrations[0].Name)
		}
		if migrations[1].DownSQL != "" {
			t.Errorf("DownSQL = %q, want empty for a migration without a down script", migrations[1].DownSQL)
		}
	})

	t.Run("missing up script", func(t *testing.T) {
		fs := fstest.MapFS{
			"migrations/0001_init.down.sql": {Data: []byte("DROP TABLE failed_event")},
		}
		if _, err := loadMigrations(fs, "migrations"); err == nil {
			t.Error("loadMigrations() error = nil, want missing-up error")
		}
	})

	t.Run("unparseable filenames skipped", func(t *testing.T) {
		fs := fstest.MapFS{
			"migrations/notes.txt":       {Data: []byte("not a migration")},
			"migrations/abc_init.up.sql": {Data: []byte("CREATE TABLE failed_event")},
		}
		migrations, err := loadMigrations(fs, "migrations")
		if err != nil {
			t.Fatalf("loadMigrations() error = %v", err)
		}
		if len(migrations) != 0 {
			t.Errorf("got %d migrations, want 0", len(migrations))
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		if _, err := loadMigrations(fstest.MapFS{}, "nonexistent"); err == nil {
			t.Error("loadMigrations() error = nil, want read error")
		}
	})
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "single statement",
			script: "CREATE TABLE failed_event (id BIGINT);",
			want:   []string{"CREATE TABLE failed_event (id BIGINT)"},
		},
		{
			name: "multiple statements with comments",
			script: `-- add attempt tracking
ALTER TABLE failed_event ADD COLUMN attempt_count INT NOT NULL DEFAULT 1;

CREATE TABLE failed_event_poison (id BIGINT);`,
			want: []string{
				"ALTER TABLE failed_event ADD COLUMN attempt_count INT NOT NULL DEFAULT 1",
				"CREATE TABLE failed_event_poison (id BIGINT)",
			},
		},
		{
			name:   "blank script",
			script: "\n  \n",
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitStatements(tt.script)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitStatements() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantSub  string
		wantStep int
		wantErr  bool
	}{
		{"defaults to up", nil, "up", 1, false},
		{"explicit status", []string{"status"}, "status", 1, false},
		{"down with steps", []string{"down", "3"}, "down", 3, false},
		{"invalid steps", []string{"down", "three"}, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, steps, err := ParseArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if sub != tt.wantSub || steps != tt.wantStep {
				t.Errorf("ParseArgs() = (%q, %d), want (%q, %d)", sub, steps, tt.wantSub, tt.wantStep)
			}
		})
	}
}
