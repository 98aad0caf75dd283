package transcript

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// Console renders the transcript as a scrolling list in a terminal: a title
// bar, then one block per row justified to the configured width.
type Console struct {
	out   io.Writer
	title string
	width int

	mu   sync.Mutex
	rows []Exchange
}

func NewConsole(out io.Writer, title string, width int) *Console {
	if width < 10 {
		width = 10
	}
	return &Console{out: out, title: title, width: width}
}

// Open draws the title bar and the start hint.
func (c *Console) Open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	bar := strings.Repeat("─", c.width)
	fmt.Fprintln(c.out, bar)
	fmt.Fprintln(c.out, center(c.title, c.width))
	fmt.Fprintln(c.out, bar)
	fmt.Fprintln(c.out, center("[ press Enter to start ]", c.width))
}

// Append adds a row to the list and draws it.
func (c *Console) Append(ex Exchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, ex)
	fmt.Fprintln(c.out, Justify(ex.Text, ex.Align, c.width))
}

// Rows returns a copy of every row appended so far.
func (c *Console) Rows() []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Exchange(nil), c.rows...)
}

// Listen treats every line read from in as a press of the start button.
// It returns when in is exhausted or ctx is done.
func (c *Console) Listen(ctx context.Context, in io.Reader, press func(context.Context)) error {
	lines := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			return err
		case <-lines:
			press(ctx)
		}
	}
}

// Justify pads each line of text to width, on the left for Right rows and
// on the right for Left rows. Lines wider than width are left untouched.
func Justify(text string, align Align, width int) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		pad := width - utf8.RuneCountInString(line)
		if pad <= 0 {
			continue
		}
		if align == Right {
			lines[i] = strings.Repeat(" ", pad) + line
		} else {
			lines[i] = line + strings.Repeat(" ", pad)
		}
	}
	return strings.Join(lines, "\n")
}

func center(text string, width int) string {
	pad := width - utf8.RuneCountInString(text)
	if pad <= 0 {
		return text
	}
	left := pad / 2
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", pad-left)
}
