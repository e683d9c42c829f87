package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/kirillkom/school-docs/internal/core/domain"
)

const barWidth = 30

// Renderer draws a single overwritten progress line on a TTY, or one line per change otherwise.
type Renderer struct {
	mu       sync.Mutex
	out      io.Writer
	isTTY    bool
	last     domain.UploadProgress
	drawn    bool
	finished bool
}

func NewRenderer(out io.Writer) *Renderer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Renderer{out: out, isTTY: tty}
}

// Handle satisfies the tracker subscriber callback. Events after Finish and removal events
// are ignored.
func (r *Renderer) Handle(p domain.UploadProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished || p.Removed {
		return
	}
	if r.drawn && p.Status == r.last.Status && p.Progress == r.last.Progress && p.Error == r.last.Error {
		return
	}
	r.last = p
	r.drawn = true

	if r.isTTY {
		fmt.Fprintf(r.out, "\r\033[K%s", progressLine(p))
		return
	}
	fmt.Fprintln(r.out, progressLine(p))
}

// Finish ends the progress line and prints the outcome.
func (r *Renderer) Finish(final domain.UploadProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true

	if r.isTTY && r.drawn {
		fmt.Fprint(r.out, "\r\033[K")
	}
	switch final.Status {
	case domain.UploadCompleted:
		fmt.Fprintf(r.out, "Document %s processed\n", final.DocumentID)
	case domain.UploadFailed:
		fmt.Fprintf(r.out, "Upload failed: %s\n", final.Error)
	default:
		fmt.Fprintln(r.out, progressLine(final))
	}
}

func progressLine(p domain.UploadProgress) string {
	pct := p.Progress
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := pct * barWidth / 100
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	line := fmt.Sprintf("[%s] %3d%% %-10s %s", bar, pct, p.Status, p.Title)
	if p.Error != "" {
		line += " (" + p.Error + ")"
	}
	return line
}
