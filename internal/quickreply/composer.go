package quickreply

import (
	"fmt"

	"github.com/collectdesk/convo/internal/model"
)

// Composer holds the operator's input buffer and the open candidate list.
type Composer struct {
	prefix     string
	catalog    []model.QuickReply
	input      string
	candidates []model.QuickReply
	open       bool
}

// NewComposer returns a Composer over a fixed catalog.
func NewComposer(catalog []model.QuickReply, prefix string) *Composer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Composer{prefix: prefix, catalog: catalog}
}

// SetInput replaces the buffer and recomputes candidates.
func (c *Composer) SetInput(input string) {
	c.input = input
	_, triggered := Query(input, c.prefix)
	if !triggered {
		c.candidates = nil
		c.open = false
		return
	}
	c.candidates = MatchWithPrefix(input, c.prefix, c.catalog)
	c.open = true
}

// Input returns the current buffer.
func (c *Composer) Input() string { return c.input }

// Open reports whether the candidate list is showing.
func (c *Composer) Open() bool { return c.open }

// Candidates returns the open candidate list, or nil when closed.
func (c *Composer) Candidates() []model.QuickReply {
	if !c.open {
		return nil
	}
	return c.candidates
}

// Select replaces the buffer with the i-th candidate's content verbatim and
// closes the list.
func (c *Composer) Select(i int) (string, error) {
	if !c.open {
		return "", fmt.Errorf("no quick-reply candidates open")
	}
	if i < 0 || i >= len(c.candidates) {
		return "", fmt.Errorf("candidate %d out of range (have %d)", i, len(c.candidates))
	}
	c.input = c.candidates[i].Content
	c.candidates = nil
	c.open = false
	return c.input, nil
}

// Dismiss closes the list without touching the buffer.
func (c *Composer) Dismiss() {
	c.candidates = nil
	c.open = false
}
