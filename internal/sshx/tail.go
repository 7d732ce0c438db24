package sshx

import "sync"

// tailBuffer keeps the last n appended lines in order. Safe for
// concurrent appends; stdout and stderr feed it from separate
// goroutines.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
	next  int
	full  bool
}

func newTailBuffer(n int) *tailBuffer {
	if n < 1 {
		n = 1
	}
	return &tailBuffer{lines: make([]string, n), max: n}
}

func (t *tailBuffer) Append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.next] = line
	t.next = (t.next + 1) % t.max
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the retained tail oldest first.
func (t *tailBuffer) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		out := make([]string, t.next)
		copy(out, t.lines[:t.next])
		return out
	}
	out := make([]string, 0, t.max)
	out = append(out, t.lines[t.next:]...)
	out = append(out, t.lines[:t.next]...)
	return out
}
