package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-go-golems/itinerary/pkg/chat"
)

// Printer writes streamed replies to a line-oriented writer. Only the new
// suffix of the reply is written as fragments arrive; a reply that is rebuilt
// after a retry starts on a fresh line.
type Printer struct {
	mu      sync.Mutex
	w       io.Writer
	index   int
	printed string
	lastSeq uint64
}

var _ chat.EventSink = &Printer{}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, index: -1}
}

func (p *Printer) PublishEvent(e chat.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.Seq != 0 && e.Seq <= p.lastSeq {
		return nil
	}
	p.lastSeq = e.Seq

	switch e.Type {
	case chat.EventHistory:
		return p.printHistory(e.History)
	case chat.EventTurnCompleted:
		if p.index >= 0 {
			p.index = -1
			p.printed = ""
			_, err := fmt.Fprintln(p.w)
			return err
		}
	case chat.EventError:
		if p.index >= 0 {
			_, _ = fmt.Fprintln(p.w)
		}
		p.index = -1
		p.printed = ""
		if e.Error != nil {
			_, err := fmt.Fprintf(p.w, "error: %s\n", e.Error.Message)
			return err
		}
	}
	return nil
}

func (p *Printer) printHistory(h chat.History) error {
	last := len(h) - 1
	if last < 0 || h[last].Role != chat.RoleModel {
		return nil
	}
	content := h[last].Content
	if p.index != last || !strings.HasPrefix(content, p.printed) {
		if p.index >= 0 {
			if _, err := fmt.Fprintln(p.w); err != nil {
				return err
			}
		}
		p.index = last
		p.printed = ""
		if _, err := fmt.Fprint(p.w, "planner> "); err != nil {
			return err
		}
	}
	suffix := content[len(p.printed):]
	p.printed = content
	_, err := io.WriteString(p.w, suffix)
	return err
}
