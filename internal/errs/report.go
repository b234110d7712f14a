package errs

import (
	"fmt"
	"io"
	"sync"
)

// Severity classifies a Message.
type Severity int

const (
	Warning Severity = iota
	Fatal
)

func (s Severity) String() string {
	if s == Fatal {
		return "fatal"
	}
	return "warning"
}

// Message is one entry in a Report.
type Message struct {
	Severity Severity
	Scope    string
	Text     string
}

// Report collects the user-visible fatal and warning messages of a run.
// It is safe for concurrent use.
type Report struct {
	mu       sync.Mutex
	messages []Message
}

// Add records err under scope, classifying it with IsFatal. Absent data is
// recorded as a warning. A nil err is ignored.
func (r *Report) Add(scope string, err error) {
	if err == nil {
		return
	}
	sev := Warning
	if IsFatal(err) {
		sev = Fatal
	}
	r.mu.Lock()
	r.messages = append(r.messages, Message{Severity: sev, Scope: scope, Text: err.Error()})
	r.mu.Unlock()
}

// Warnf records a warning.
func (r *Report) Warnf(scope, format string, args ...any) {
	r.mu.Lock()
	r.messages = append(r.messages, Message{Severity: Warning, Scope: scope, Text: fmt.Sprintf(format, args...)})
	r.mu.Unlock()
}

// Messages returns a copy of the recorded messages in insertion order.
func (r *Report) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Counts returns the number of fatal and warning messages.
func (r *Report) Counts() (fatal, warnings int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.Severity == Fatal {
			fatal++
		} else {
			warnings++
		}
	}
	return fatal, warnings
}

// WriteTo prints one line per message.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, m := range r.Messages() {
		n, err := fmt.Fprintf(w, "%-7s %s: %s\n", m.Severity, m.Scope, m.Text)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
