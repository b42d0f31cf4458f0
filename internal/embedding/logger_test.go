package embedding

import "log/slog"

func testLogger() *slog.Logger {
	return slog.Default()
}
