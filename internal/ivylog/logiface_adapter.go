package ivylog

import (
	"time"

	"github.com/joeycumines/logiface"
)

// adapterEvent is the logiface.Event implementation backing LogifaceAdapter.
// It just accumulates fields into an Entry, which is handed to the
// destination Logger once logiface finishes building the event.
type adapterEvent struct {
	logiface.UnimplementedEvent
	entry Entry
}

func (e *adapterEvent) Level() logiface.Level { return e.level() }

func (e *adapterEvent) level() logiface.Level {
	switch e.entry.Level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

func (e *adapterEvent) AddField(key string, val any) {
	if e.entry.Fields == nil {
		e.entry.Fields = make(map[string]any, 4)
	}
	e.entry.Fields[key] = val
}

func (e *adapterEvent) AddMessage(msg string) bool {
	e.entry.Message = msg
	return true
}

func (e *adapterEvent) AddError(err error) bool {
	e.entry.Err = err
	return true
}

func (e *adapterEvent) AddString(key, val string) bool { e.AddField(key, val); return true }
func (e *adapterEvent) AddInt(key string, val int) bool { e.AddField(key, val); return true }
func (e *adapterEvent) AddBool(key string, val bool) bool { e.AddField(key, val); return true }
func (e *adapterEvent) AddTime(key string, val time.Time) bool { e.AddField(key, val); return true }
func (e *adapterEvent) AddDuration(key string, val time.Duration) bool {
	e.AddField(key, val)
	return true
}

func fromLogifaceLevel(level logiface.Level) Level {
	switch {
	case level <= logiface.LevelCritical:
		return LevelError
	case level <= logiface.LevelWarning:
		return LevelWarn
	case level <= logiface.LevelInformational:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// LogifaceAdapter bridges ivylog's Logger interface to an existing
// github.com/joeycumines/logiface logger, for callers who already
// standardized on logiface and want ivyloop's diagnostics folded into the
// same pipeline (mirrors the teacher's documented "external integration
// with logging frameworks" design in eventloop/logging.go).
//
// The destination is whatever Writer the caller configured the supplied
// logiface.Logger with; this adapter only shapes ivylog.Entry values into
// logiface's Event/Builder API.
type LogifaceAdapter struct {
	dest *logiface.Logger[*adapterEvent]
}

// NewLogifaceAdapter builds an ivylog.Logger that forwards every Entry into
// a logiface.Logger constructed with the given Writer.
func NewLogifaceAdapter(writer logiface.Writer[*adapterEvent]) *LogifaceAdapter {
	dest := logiface.New[*adapterEvent](
		logiface.WithEventFactory[*adapterEvent](logiface.EventFactoryFunc[*adapterEvent](func(level logiface.Level) *adapterEvent {
			return &adapterEvent{entry: Entry{Level: fromLogifaceLevel(level)}}
		})),
		logiface.WithWriter[*adapterEvent](writer),
	)
	return &LogifaceAdapter{dest: dest}
}

func (a *LogifaceAdapter) Enabled(level Level) bool {
	switch level {
	case LevelDebug:
		return a.dest.Level() >= logiface.LevelDebug
	case LevelWarn:
		return a.dest.Level() >= logiface.LevelWarning
	case LevelError:
		return a.dest.Level() >= logiface.LevelError
	default:
		return a.dest.Level() >= logiface.LevelInformational
	}
}

func (a *LogifaceAdapter) Log(e Entry) {
	b := a.dest.Build(e.levelToLogiface())
	if b == nil {
		return
	}
	if e.Category != "" {
		b.Str("category", e.Category)
	}
	if e.Err != nil {
		b.Err(e.Err)
	}
	for k, v := range e.Fields {
		b.Any(k, v)
	}
	b.Log(e.Message)
}

func (e Entry) levelToLogiface() logiface.Level {
	switch e.Level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
