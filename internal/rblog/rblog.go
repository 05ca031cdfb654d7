// Package rblog provides the bootloader's console trace: one structured
// line per boot decision, matching the "console, when present" behavior
// required of the core (spec.md Section 7).
package rblog

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Logger wraps a zap.SugaredLogger with a run id so that a sequence of
// reboots exercised by the host simulator (crash/resume scenarios) can be
// told apart in a single combined log stream.
type Logger struct {
	sugar       *zap.SugaredLogger
	runID       string
	fatalOnHalt bool
}

// New builds a console logger. fatalOnHalt controls whether Halt calls
// os.Exit (via zap's Fatal level) in the same call that logs the halt
// line. cmd/rbsim passes false: its halt path is UpdateController.OnReset
// returning FatalNoBootableImage up through cobra's RunE, which main.go
// turns into the process exit — Halt only needs to record the line.
// Tests pass false for the same reason, plus so a halted boot can still
// be asserted on. A caller with no other halt mechanism of its own should
// pass true.
func New(fatalOnHalt bool) *Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	base, err := cfg.Build()
	if err != nil {
		// Zap's own constructor failing means stderr is unusable; there is
		// nothing left to log to.
		panic(err)
	}
	l := &Logger{sugar: base.Sugar(), runID: uuid.NewString()[:8], fatalOnHalt: fatalOnHalt}
	return l
}

// Decision logs a single boot decision, e.g. "authenticate BOOT: ok".
func (l *Logger) Decision(format string, args ...any) {
	l.sugar.Infof("[%s] %s", l.runID, fmt.Sprintf(format, args...))
}

// Warn logs a recovered, non-fatal failure per the policy in spec.md
// Section 7 ("non-fatal failures are silently recovered").
func (l *Logger) Warn(format string, args ...any) {
	l.sugar.Warnf("[%s] %s", l.runID, fmt.Sprintf(format, args...))
}

// Halt logs a fatal, unrecoverable condition. If fatalOnHalt was set in
// New, this calls os.Exit(1) via zap's Fatal level and never returns;
// otherwise the caller remains responsible for actually stopping the
// boot sequence (cmd/rbsim's FatalNoBootableImage error-return path).
func (l *Logger) Halt(format string, args ...any) {
	msg := fmt.Sprintf("[%s] HALT: %s", l.runID, fmt.Sprintf(format, args...))
	if l.fatalOnHalt {
		l.sugar.Fatal(msg)
		return
	}
	l.sugar.Error(msg)
}

// ByteSize renders a byte count the way the teacher's CLI formats partition
// and sector sizes in diagnostics.
func ByteSize(n uint64) string {
	return humanize.Bytes(n)
}

// Sync flushes the underlying zap core; call from cmd/rbsim before exit.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}
