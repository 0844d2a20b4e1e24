package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/quiver/internal/config"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		convey.Reset(clearConfigEnvVars)

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then the defaults are returned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Events, convey.ShouldHaveLength, 8)
			})
		})

		convey.Convey("When loading with environment variables", func() {
			setenv("QUIVER_ADDR", ":8080")
			setenv("QUIVER_WORKER_COUNT", "16")
			setenv("QUIVER_EVENTS", "AGBNI21,AGBNI19")
			setenv("QUIVER_RANK_BAND_EDGES", "1,4,9")
			setenv("QUIVER_STORE_PATH", ":memory:")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env overrides defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.Events, convey.ShouldResemble, []string{"AGBNI21", "AGBNI19"})
				convey.So(cfg.RankBandEdges, convey.ShouldResemble, []float64{1, 4, 9})
				convey.So(cfg.StorePath, convey.ShouldEqual, ":memory:")
			})
		})

		convey.Convey("When loading a YAML file", func() {
			path := filepath.Join(t.TempDir(), "quiver.yaml")
			yaml := "addr: \":7070\"\ndataset_id: AGB_NI_\nevents:\n  - AGBNI11\nfile_suffix: \"\"\n"
			convey.So(os.WriteFile(path, []byte(yaml), 0o600), convey.ShouldBeNil)
			setenv(config.FileEnv, path)
			setenv("QUIVER_TOP_N", "5")

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values apply and env still wins", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.DatasetID, convey.ShouldEqual, "AGB_NI_")
				convey.So(cfg.Events, convey.ShouldResemble, []string{"AGBNI11"})
				convey.So(cfg.FileSuffix, convey.ShouldEqual, "")
				convey.So(cfg.TopN, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When the file is missing", func() {
			setenv(config.FileEnv, filepath.Join(t.TempDir(), "absent.yaml"))
			_, err := config.Load(ctx)

			convey.Convey("Then loading fails", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When env produces an invalid config", func() {
			setenv("QUIVER_QUEUE_SIZE", "0")
			_, err := config.Load(ctx)

			convey.Convey("Then validation fails", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func setenv(key, value string) {
	_ = os.Setenv(key, value)
}

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if key, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(key, config.EnvPrefix) {
			_ = os.Unsetenv(key)
		}
	}
}
