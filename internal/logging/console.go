package logging

import (
	"fmt"
	"io"
)

// DefaultTailLines is the number of recent lines kept per console.
const DefaultTailLines = 200

// Console echoes child output verbatim and remembers the most recent lines.
type Console struct {
	w    io.Writer
	buf  []string
	next int
	full bool
}

// NewConsole echoes to w (io.Discard to stay quiet) and keeps the last n lines.
func NewConsole(w io.Writer, n int) *Console {
	if w == nil {
		w = io.Discard
	}
	if n <= 0 {
		n = DefaultTailLines
	}
	return &Console{w: w, buf: make([]string, n)}
}

// Line echoes one line and stores it in the ring buffer.
func (c *Console) Line(line string) {
	fmt.Fprintln(c.w, line)
	c.buf[c.next] = line
	c.next = (c.next + 1) % len(c.buf)
	if c.next == 0 {
		c.full = true
	}
}

// Printf writes a tool message to the console without recording it.
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.w, format+"\n", args...)
}

// Tail returns the recorded lines, oldest first.
func (c *Console) Tail() []string {
	if !c.full {
		out := make([]string, c.next)
		copy(out, c.buf[:c.next])
		return out
	}
	out := make([]string, 0, len(c.buf))
	out = append(out, c.buf[c.next:]...)
	out = append(out, c.buf[:c.next]...)
	return out
}

// Reset forgets the recorded lines.
func (c *Console) Reset() {
	for i := range c.buf {
		c.buf[i] = ""
	}
	c.next = 0
	c.full = false
}
