package logger

import "go.uber.org/zap"

// Log is the process-wide logger. It defaults to a no-op logger so
// packages (and their tests) can log without calling Init.
var Log = zap.NewNop()

// Init replaces the global logger. Call once from main before serving.
func Init(debug bool) error {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	Log = l
	return nil
}

// Sync flushes buffered log entries; safe to defer from main.
func Sync() {
	_ = Log.Sync()
}
