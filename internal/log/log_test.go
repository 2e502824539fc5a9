package log

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConsoleHandlerFiltersBySeverity(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	h := NewConsoleHandler(SeverityWarning, w)
	h.clockf = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	h.Handle(&GeneralMessage{Severity: SeverityDebug, Content: "should be dropped"})
	h.Handle(&GeneralMessage{Severity: SeverityError, Content: "should appear"})
	w.Close()

	buf := make([]byte, 4096)
	n, _ := r.Read(buf)
	out := string(buf[:n])

	require.NotContains(t, out, "should be dropped")
	require.Contains(t, out, "should appear")
	require.Contains(t, out, "[Error]")
}

func TestSeverityUnknownAllowsEverything(t *testing.T) {
	require.True(t, severityAllowed(SeverityUnknown, SeverityDebug))
}

func TestRegisterHandlerReplacesActive(t *testing.T) {
	var got Message
	RegisterHandler(handlerFunc(func(m Message) { got = m }))
	defer RegisterHandler(NewConsoleHandler(SeverityInfo, os.Stderr))

	msg := &GeneralMessage{Severity: SeverityInfo, Content: "hi"}
	Record(msg)
	require.Equal(t, msg, got)
}

type handlerFunc func(Message)

func (f handlerFunc) Handle(msg Message) { f(msg) }
