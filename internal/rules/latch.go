package rules

import "sync"

// DefaultCorrectMessage is shown when no evaluated rule is violated.
const DefaultCorrectMessage = "Correct posture"

// Latch holds the message currently on display. The first violation wins;
// the shown text is only replaced when it actually differs.
type Latch struct {
	mu      sync.Mutex
	correct string
	shown   string
	set     bool
}

// NewLatch returns a latch that shows correct when nothing is violated.
func NewLatch(correct string) *Latch {
	if correct == "" {
		correct = DefaultCorrectMessage
	}
	return &Latch{correct: correct}
}

// Update feeds one frame's evaluation and reports the message to display
// and whether it changed since the previous frame.
func (l *Latch) Update(ev Evaluation) (string, bool) {
	want := l.correct
	if len(ev.Messages) > 0 {
		want = ev.Messages[0]
	}
	return l.Show(want)
}

// Show displays an arbitrary status message with the same change semantics.
func (l *Latch) Show(msg string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.set && l.shown == msg {
		return l.shown, false
	}
	l.shown = msg
	l.set = true
	return l.shown, true
}

// Current returns the message on display, if any.
func (l *Latch) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shown
}

// Reset forgets the displayed message.
func (l *Latch) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shown = ""
	l.set = false
}
