package logger

import (
	"bytes"
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		So(Init(), ShouldBeNil)
		defer func() { So(Sync(), ShouldBeNil) }()

		Convey("Then Get returns an initialized logger", func() {
			So(Get(), ShouldNotBeNil)
		})

		Convey("And a nil writer is rejected", func() {
			So(InitWithWriter(nil), ShouldNotBeNil)
		})
	})
}

func TestLoggerFields(t *testing.T) {
	Convey("Given a logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWithWriter(&buf), ShouldBeNil)
		ctx := context.Background()

		Convey("When logging with With fields", func() {
			Get().With(String("importID", "imp-1"), Int("userID", 7)).Info(ctx, "import started", Bool("userIntent", true))

			Convey("Then every field and the caller are rendered", func() {
				out := buf.String()
				So(out, ShouldContainSubstring, "import started")
				So(out, ShouldContainSubstring, "importID=imp-1")
				So(out, ShouldContainSubstring, "userID=7")
				So(out, ShouldContainSubstring, "userIntent=true")
				So(out, ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When logging below the configured level", func() {
			So(SetLevelString("warn"), ShouldBeNil)
			defer func() { _ = SetLevelString("info") }()
			Get().Debug(ctx, "hidden")

			Convey("Then nothing is written", func() {
				So(buf.String(), ShouldNotContainSubstring, "hidden")
			})
		})

		Convey("When using a named logger", func() {
			Named("worker").Info(ctx, "job done", String("job", "j1"))

			Convey("Then fields are grouped under the name", func() {
				So(buf.String(), ShouldContainSubstring, "worker.job=j1")
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		So(SetLevelString("debug"), ShouldBeNil)
		So(SetLevelString("WARNING"), ShouldBeNil)
		So(SetLevelString(""), ShouldBeNil)
		So(SetLevelString("loud"), ShouldNotBeNil)
	})
}

func TestNop(t *testing.T) {
	Convey("Given a nop logger", t, func() {
		l := Nop()
		So(func() { l.Error(context.Background(), "dropped") }, ShouldNotPanic)
		So(l.Named("x").With(String("a", "b")), ShouldNotBeNil)
	})
}
