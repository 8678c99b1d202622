package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/scoreingest/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Mode, convey.ShouldEqual, config.ModeInline)
				convey.So(cfg.StreamStallTimeoutMS, convey.ShouldEqual, 5000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("INGEST_ADDR", ":8080")
			_ = os.Setenv("INGEST_MODE", "distributed")
			_ = os.Setenv("INGEST_QUEUE_SIZE", "500")
			_ = os.Setenv("INGEST_WORKER_COUNT", "16")
			_ = os.Setenv("INGEST_JOB_RESULT_RETENTION", "30s")
			_ = os.Setenv("INGEST_SCORE_HOST_RPS", "2.5")
			_ = os.Setenv("INGEST_CORS_ALLOWED_ORIGINS", "http://a.local,http://b.local")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should use environment values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Mode, convey.ShouldEqual, config.ModeDistributed)
				convey.So(cfg.QueueSize, convey.ShouldEqual, 500)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.JobResultRetention, convey.ShouldEqual, 30*time.Second)
				convey.So(cfg.ScoreHostRPS, convey.ShouldEqual, 2.5)
				convey.So(cfg.CORSAllowedOrigins, convey.ShouldResemble, []string{"http://a.local", "http://b.local"})
			})
		})

		convey.Convey("When loading config from both file and environment", func() {
			yamlContent := `
addr: ":7070"
store: sqlite
db_path: /tmp/scores.db
worker_count: 8
orphan_interval_ms: 60000
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("INGEST_CONFIG", tmpFile)
			_ = os.Setenv("INGEST_WORKER_COUNT", "32")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.Store, convey.ShouldEqual, config.StoreSQLite)
				convey.So(cfg.DBPath, convey.ShouldEqual, "/tmp/scores.db")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 32)
				convey.So(cfg.OrphanInterval(), convey.ShouldEqual, time.Minute)
				convey.So(cfg.JobMaxAttempts, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("INGEST_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("INGEST_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestConfigLoaderEdgeCases(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("INGEST_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the mode is unknown", func() {
			_ = os.Setenv("INGEST_MODE", "cluster")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a number is not a number", func() {
			_ = os.Setenv("INGEST_QUEUE_SIZE", "lots")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should fail to decode", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When a .env file is present", func() {
			clearConfigEnvVars()
			dir := t.TempDir()
			convey.So(os.WriteFile(dir+"/.env", []byte("INGEST_ADDR=:6060\nINGEST_MODE=distributed\n"), 0o600), convey.ShouldBeNil)
			wd, _ := os.Getwd()
			convey.So(os.Chdir(dir), convey.ShouldBeNil)
			_ = os.Setenv("INGEST_MODE", "inline")
			defer func() {
				_ = os.Chdir(wd)
				clearConfigEnvVars()
			}()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it fills unset variables without overriding set ones", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":6060")
				convey.So(cfg.Mode, convey.ShouldEqual, config.ModeInline)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"INGEST_CONFIG",
		"INGEST_ADDR",
		"INGEST_MODE",
		"INGEST_QUEUE_SIZE",
		"INGEST_WORKER_COUNT",
		"INGEST_JOB_RESULT_RETENTION",
		"INGEST_SCORE_HOST_RPS",
		"INGEST_CORS_ALLOWED_ORIGINS",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "scoreingest-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
