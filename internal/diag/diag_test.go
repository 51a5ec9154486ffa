package diag

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentAttribute(t *testing.T) {
	var buf bytes.Buffer
	old, oldLevel := Logger(), Level()
	t.Cleanup(func() {
		SetLogger(old)
		SetLevel(oldLevel)
	})
	SetLogger(NewLogger(&buf))
	SetLevel(slog.LevelInfo)

	Debug(DMA, "filtered")
	Warn(SPI, "tx still running", "stream", 3)
	out := buf.String()
	if strings.Contains(out, "filtered") {
		t.Errorf("debug record logged at info level: %q", out)
	}
	for _, want := range []string{"level=WARN", `msg="tx still running"`, "component=spi", "stream=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %q lacks %q", out, want)
		}
	}
}
