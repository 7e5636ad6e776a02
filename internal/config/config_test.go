package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "server:\n  debug: false\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "local", cfg.Storage.Type)
	assert.Equal(t, 168*time.Hour, cfg.Storage.S3.PresignExpiration)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.CheckInterval)
	assert.Equal(t, "Reports", cfg.Notification.SubjectPrefix)
	assert.Equal(t, "http://localhost:8080/files", cfg.FilesURL())
}

func TestLoadFileReportsAndDatasources(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
database:
  driver: sqlite
  dsn: file::memory:
datasources:
  warehouse:
    driver: postgres
    dsn: postgres://reader@db/warehouse
reports:
  - key: sales
    name: Monthly sales
    datasource: warehouse
    query: SELECT * FROM sales WHERE day >= :start
    outputs: [tsv, xlsx]
`))
	require.NoError(t, err)

	require.Len(t, cfg.Reports, 1)
	assert.Equal(t, "sales", cfg.Reports[0].Key)
	assert.Equal(t, []string{"tsv", "xlsx"}, cfg.Reports[0].Outputs)
	assert.Equal(t, "postgres", cfg.Datasources["warehouse"].Driver)
}

func TestLoadFileEnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_LOGGING_LEVEL", "debug")
	t.Setenv("APP_SCHEDULER_CHECK_INTERVAL", "5s")

	cfg, err := LoadFile(writeConfig(t, "logging:\n  level: info\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.CheckInterval)
}

func TestLoadFileValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad driver", "database:\n  driver: mysql\n"},
		{"bad storage", "storage:\n  type: ftp\n"},
		{"bad log level", "logging:\n  level: verbose\n"},
		{"smtp without host", "notification:\n  smtp:\n    enabled: true\n    from: a@example.com\n"},
		{"unknown datasource", "reports:\n  - key: sales\n    datasource: missing\n    query: SELECT 1\n"},
		{"duplicate report", "datasources:\n  main:\n    driver: sqlite3\n    dsn: x\nreports:\n  - key: a\n    datasource: main\n  - key: a\n    datasource: main\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigStringHidesSecrets(t *testing.T) {
	cfg := Config{DB: DB{Driver: "postgres", DSN: "postgres://user:secret@db/reports"}}
	cfg.Storage.S3.SecretKey = "s3-secret"

	s := cfg.String()
	assert.NotContains(t, s, "secret@db")
	assert.NotContains(t, s, "s3-secret")
	assert.Contains(t, s, "[HIDDEN]")
}
