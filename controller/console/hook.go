package console

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

type lineSender interface {
	SendLine(text string)
}

// Hook mirrors warnings and errors from the process logger onto the console.
type Hook struct {
	out lineSender
}

func NewHook(out lineSender) *Hook {
	return &Hook{out: out}
}

func (h *Hook) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel}
}

func (h *Hook) Fire(e *log.Entry) error {
	var b strings.Builder
	b.WriteString(strings.ToUpper(e.Level.String()))
	if m, ok := e.Data["module"]; ok {
		fmt.Fprintf(&b, " [%v]", m)
	}
	b.WriteString(": ")
	b.WriteString(strings.TrimSpace(e.Message))
	if err, ok := e.Data[log.ErrorKey]; ok {
		fmt.Fprintf(&b, ": %v", err)
	}
	h.out.SendLine(b.String())
	return nil
}
