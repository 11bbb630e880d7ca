package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketchat/internal/model"
)

var configEnv = []string{
	"SERVER_ADDR", "READ_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT", "DATABASE_URL", "DB_MAX_CONNECTIONS",
	"STORAGE_DRIVER", "ATTACHMENT_DRIVER", "ATTACHMENT_DIR", "GCS_BUCKET", "GCS_PREFIX", "GCS_CREDENTIALS_FILE",
	"MAX_UPLOAD_SIZE_MB", "REDIS_URL", "IDENTITY_DRIVER", "DEV_IDENTITIES", "CORS_ALLOWED_ORIGINS",
	"RATE_LIMIT_PER_IP", "RATE_LIMIT_PER_USER", "LOG_LEVEL", "APP_ENV", "CONFIG_PATH",
}

// clearEnv обнуляет все ключи, которые читает Load; t.Setenv вернёт прежние значения.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
	t.Setenv("APP_ENV", "production") // без поиска .env
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://market.example")
	cfg, err := fromYAML(defaults())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, AttachmentDriverLocal, cfg.Attachments.Driver)
	assert.Equal(t, IdentityDriverRedis, cfg.IdentityDriver)
	assert.EqualValues(t, 12<<20, cfg.MaxUploadSize)
	assert.Equal(t, 20, cfg.DBMaxConnections())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "api.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_addr: ":9000"
storage_driver: memory
attachments:
  driver: local
  dir: /var/lib/marketchat
identity_driver: memory
dev_identities:
  - token: t-admin
    user_id: admin-1
    role: admin
  - token: t-user
    user_id: user-1
cors_allowed_origins: "https://market.example"
`), 0o644))
	t.Setenv("APP_ENV", "staging")
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SERVER_ADDR", ":9100")
	t.Setenv("MAX_UPLOAD_SIZE_MB", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.ServerAddr, "env wins over yaml")
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, "/var/lib/marketchat", cfg.Attachments.Dir)
	assert.GreaterOrEqual(t, cfg.MaxUploadSize, int64(model.MaxFileSize), "body cap never below the file limit")

	ids := cfg.Identities()
	require.Len(t, ids, 2)
	assert.True(t, ids["t-admin"].IsAdmin())
	assert.Equal(t, model.RoleUser, ids["t-user"].Role)
}

func TestLoadRejectsDevIdentitiesInProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEV_IDENTITIES", "tok:u-1")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateDrivers(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "")

	for _, tc := range []struct{ key, val string }{
		{"STORAGE_DRIVER", "mongo"},
		{"ATTACHMENT_DRIVER", "s3"},
		{"IDENTITY_DRIVER", "ldap"},
	} {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := fromYAML(defaults())
			assert.Error(t, err)
		})
	}

	t.Run("gcs needs bucket", func(t *testing.T) {
		t.Setenv("ATTACHMENT_DRIVER", "gcs")
		_, err := fromYAML(defaults())
		assert.Error(t, err)
		t.Setenv("GCS_BUCKET", "marketchat-attachments")
		_, err = fromYAML(defaults())
		assert.NoError(t, err)
	})
}

func TestParseDevIdentities(t *testing.T) {
	ids, err := parseDevIdentities("a:u-1:admin, b:u-2 ,")
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, DevIdentity{Token: "a", UserID: "u-1", Role: "admin"}, ids[0])
	assert.Equal(t, DevIdentity{Token: "b", UserID: "u-2", Role: "user"}, ids[1])

	_, err = parseDevIdentities("broken")
	assert.Error(t, err)
}
