package mqtt

// LifecycleHandler receives session events. Methods are called on engine
// goroutines and must not block for long.
type LifecycleHandler interface {
	// OnConnectionCompleted reports the outcome of the attempt started by
	// Connect. err is the engine's error, nil on success.
	OnConnectionCompleted(err error, returnCode byte, sessionPresent bool)

	// OnConnectionClosed fires once a Disconnect has finished.
	OnConnectionClosed()

	// OnConnectionInterrupted fires each time an established session drops.
	OnConnectionInterrupted(err error)

	// OnConnectionResumed fires each time the engine re-establishes a
	// dropped session.
	OnConnectionResumed(returnCode byte, sessionPresent bool)
}

// LifecycleFuncs adapts plain functions to LifecycleHandler. Nil fields
// are skipped.
type LifecycleFuncs struct {
	Completed   func(err error, returnCode byte, sessionPresent bool)
	Closed      func()
	Interrupted func(err error)
	Resumed     func(returnCode byte, sessionPresent bool)
}

func (f LifecycleFuncs) OnConnectionCompleted(err error, returnCode byte, sessionPresent bool) {
	if f.Completed != nil {
		f.Completed(err, returnCode, sessionPresent)
	}
}

func (f LifecycleFuncs) OnConnectionClosed() {
	if f.Closed != nil {
		f.Closed()
	}
}

func (f LifecycleFuncs) OnConnectionInterrupted(err error) {
	if f.Interrupted != nil {
		f.Interrupted(err)
	}
}

func (f LifecycleFuncs) OnConnectionResumed(returnCode byte, sessionPresent bool) {
	if f.Resumed != nil {
		f.Resumed(returnCode, sessionPresent)
	}
}

// Logger is the logging capability components receive at construction.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return nopLogger{}
}
