package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
)

// LineReader reads one line of operator input. It returns io.EOF once input
// is exhausted.
type LineReader interface {
	ReadLine(prompt string) (string, error)
}

// bufferedReader reads from any io.Reader. The prompt is echoed to out so
// transcripts of piped sessions stay readable.
type bufferedReader struct {
	r   *bufio.Reader
	out io.Writer
}

func newBufferedReader(in io.Reader, out io.Writer) *bufferedReader {
	return &bufferedReader{r: bufio.NewReader(in), out: out}
}

func (b *bufferedReader) ReadLine(prompt string) (string, error) {
	if prompt != "" && b.out != nil {
		io.WriteString(b.out, prompt)
	}
	line, err := b.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// streamReader reads a line at a time without read-ahead, so bytes after the
// newline stay in the underlying stream for whoever reads it next.
type streamReader struct {
	r   io.Reader
	out io.Writer
}

func newStreamReader(in io.Reader, out io.Writer) *streamReader {
	return &streamReader{r: in, out: out}
}

func (s *streamReader) ReadLine(prompt string) (string, error) {
	if prompt != "" && s.out != nil {
		io.WriteString(s.out, prompt)
	}
	var (
		line []byte
		buf  [1]byte
	)
	for {
		n, err := s.r.Read(buf[:])
		if n == 1 {
			if buf[0] == '\n' {
				return strings.TrimRight(string(line), "\r"), nil
			}
			line = append(line, buf[0])
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return strings.TrimRight(string(line), "\r"), nil
			}
			return "", err
		}
	}
}

// linerReader is the terminal line editor used when stdin is a tty.
type linerReader struct {
	st *liner.State
}

func (l *linerReader) Close() error {
	return l.st.Close()
}

func (l *linerReader) ReadLine(prompt string) (string, error) {
	line, err := l.st.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		l.st.AppendHistory(line)
	}
	return line, nil
}

// Console is the I/O channel a session talks through. Only one session owns
// it at a time; nested sessions push onto the holder stack and the previous
// holder gets the console back when they release it.
type Console struct {
	mu      sync.Mutex
	in      LineReader
	out     io.Writer
	holders []string

	// open, when set, supplies the reader for the outermost session; it is
	// closed again when that session releases the console.
	open   Opener
	opened LineReader
	closer io.Closer
}

// Opener creates a line reader and the closer that undoes whatever opening it
// changed, such as terminal modes.
type Opener func() (LineReader, io.Closer, error)

// NewConsole returns a console reading lines from in and writing to out.
// Input that one session does not consume stays buffered for the next.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: newBufferedReader(in, out), out: out}
}

// NewLineConsole returns a console over an arbitrary line reader.
func NewLineConsole(r LineReader, out io.Writer) *Console {
	return &Console{in: r, out: out}
}

// NewSessionConsole returns a console whose reader exists only while a
// session holds it: open runs when the outermost session acquires the
// console and the returned closer runs when that session releases it, on
// every exit path.
func NewSessionConsole(open Opener, out io.Writer) *Console {
	return &Console{open: open, out: out}
}

var (
	stdioOnce sync.Once
	stdio     *Console
)

// Stdio returns the process console. A terminal gets the liner line editor
// with history, switched into raw mode only while a session runs. Anything
// else is read without read-ahead so the host keeps the rest of its input.
func Stdio() *Console {
	stdioOnce.Do(func() {
		stdio = newProcessConsole(os.Stdin, os.Stdout)
	})
	return stdio
}

func newProcessConsole(in *os.File, out io.Writer) *Console {
	fd := in.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return NewSessionConsole(func() (LineReader, io.Closer, error) {
			st := liner.NewLiner()
			st.SetCtrlCAborts(true)
			r := &linerReader{st: st}
			return r, r, nil
		}, out)
	}
	return NewLineConsole(newStreamReader(in, out), out)
}

// Close releases a reader still opened for a session, if any.
func (c *Console) Close() error {
	c.mu.Lock()
	closer := c.closer
	c.closer, c.opened = nil, nil
	c.mu.Unlock()
	if closer != nil {
		return closer.Close()
	}
	return nil
}

// Redirect swaps the console's streams until the returned function is called.
func (c *Console) Redirect(in io.Reader, out io.Writer) (restore func()) {
	c.mu.Lock()
	prevIn, prevOut := c.in, c.out
	c.in = newBufferedReader(in, out)
	c.out = out
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		c.in, c.out = prevIn, prevOut
		c.mu.Unlock()
	}
}

// acquire makes holder the owner of the console. The returned release hands
// it back to whoever held it before.
func (c *Console) acquire(holder string) (release func()) {
	c.mu.Lock()
	c.holders = append(c.holders, holder)
	depth := len(c.holders)
	if depth == 1 && c.open != nil && c.opened == nil {
		r, closer, err := c.open()
		if err == nil {
			c.opened, c.closer = r, closer
		} else {
			c.opened = failedReader{err: err}
		}
	}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if len(c.holders) >= depth {
				c.holders = c.holders[:depth-1]
			}
			var closer io.Closer
			if len(c.holders) == 0 && c.open != nil {
				closer = c.closer
				c.opened, c.closer = nil, nil
			}
			c.mu.Unlock()
			if closer != nil {
				closer.Close()
			}
		})
	}
}

// failedReader reports why a session reader could not be opened.
type failedReader struct{ err error }

func (f failedReader) ReadLine(string) (string, error) {
	return "", fmt.Errorf("failed to open console: %w", f.err)
}

// Holder returns the current owner, or "" when the console is free.
func (c *Console) Holder() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.holders) == 0 {
		return ""
	}
	return c.holders[len(c.holders)-1]
}

// Depth returns how many sessions are currently layered on the console.
func (c *Console) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.holders)
}

// ReadLine reads one line through the current input.
func (c *Console) ReadLine(prompt string) (string, error) {
	c.mu.Lock()
	in := c.in
	if in == nil {
		in = c.opened
	}
	c.mu.Unlock()
	if in == nil {
		return "", io.EOF
	}
	return in.ReadLine(prompt)
}

// Writer returns the current output.
func (c *Console) Writer() io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out
}

// Printf writes formatted output to the console.
func (c *Console) Printf(format string, a ...any) {
	fmt.Fprintf(c.Writer(), format, a...)
}

// Println writes a line to the console.
func (c *Console) Println(a ...any) {
	fmt.Fprintln(c.Writer(), a...)
}
