package config_test

import (
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/scoreingest/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Mode, convey.ShouldEqual, config.ModeInline)
			convey.So(cfg.Store, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*4)
			convey.So(cfg.JobMaxAttempts, convey.ShouldEqual, 3)
			convey.So(cfg.JobResultRetention, convey.ShouldEqual, 10*time.Minute)
			convey.So(cfg.StreamStallTimeout(), convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.OrphanInterval(), convey.ShouldEqual, 15*time.Minute)
			convey.So(cfg.CORSAllowedOrigins, convey.ShouldResemble, []string{"*"})
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with a single bad value", t, func() {
		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"empty addr", func(c *config.Config) { c.Addr = "" }},
			{"unknown mode", func(c *config.Config) { c.Mode = "batch" }},
			{"unknown store", func(c *config.Config) { c.Store = "postgres" }},
			{"sqlite without path", func(c *config.Config) { c.Store, c.DBPath = config.StoreSQLite, "" }},
			{"zero workers", func(c *config.Config) { c.WorkerCount = 0 }},
			{"zero attempts", func(c *config.Config) { c.JobMaxAttempts = 0 }},
			{"zero cache", func(c *config.Config) { c.ScoreIDCacheSize = 0 }},
			{"negative interval", func(c *config.Config) { c.OrphanIntervalMS = -1 }},
			{"zero stall timeout", func(c *config.Config) { c.StreamStallTimeoutMS = 0 }},
			{"zero rps", func(c *config.Config) { c.ScoreHostRPS = 0 }},
			{"zero pb concurrency", func(c *config.Config) { c.PBConcurrency = 0 }},
		}

		for _, tc := range cases {
			cfg := config.New()
			tc.mutate(cfg)
			convey.Convey("Then "+tc.name+" is rejected as invalid", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}

		convey.Convey("Then a disabled orphan interval is allowed", func() {
			cfg := config.New()
			cfg.OrphanIntervalMS = 0
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
