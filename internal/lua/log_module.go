package lua

import (
	"context"
	"log/slog"

	lua "github.com/yuin/gopher-lua"
)

// LogModule exposes log.debug/info/warn/error(msg, key, value, ...) to
// scripts.
type LogModule struct {
	logger *slog.Logger
}

func NewLogModule(logger *slog.Logger) *LogModule {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogModule{
		logger: logger,
	}
}

func (l *LogModule) Name() string {
	return "log"
}

func (l *LogModule) Register(L *lua.LState) error {
	logTable := L.NewTable()

	L.SetField(logTable, "debug", L.NewFunction(l.logFunc(slog.LevelDebug)))
	L.SetField(logTable, "info", L.NewFunction(l.logFunc(slog.LevelInfo)))
	L.SetField(logTable, "warn", L.NewFunction(l.logFunc(slog.LevelWarn)))
	L.SetField(logTable, "error", L.NewFunction(l.logFunc(slog.LevelError)))

	L.SetGlobal(l.Name(), logTable)
	return nil
}

func (l *LogModule) logFunc(level slog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		message := L.CheckString(1)

		var attrs []any
		for i := 2; i+1 <= L.GetTop(); i += 2 {
			attrs = append(attrs, L.Get(i).String(), ToGoValue(L.Get(i+1)))
		}

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		l.logger.Log(ctx, level, message, attrs...)
		return 0
	}
}
