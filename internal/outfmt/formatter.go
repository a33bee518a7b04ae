package outfmt

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

// Formatter writes one command's output in the mode carried by ctx.
type Formatter struct {
	ctx    context.Context
	out    io.Writer
	errOut io.Writer
	tw     *tabwriter.Writer
}

// NewFormatter creates a Formatter.
func NewFormatter(ctx context.Context, out, errOut io.Writer) *Formatter {
	return &Formatter{
		ctx:    ctx,
		out:    out,
		errOut: errOut,
		tw:     tabwriter.NewWriter(out, 0, 4, 2, ' ', 0),
	}
}

// Output writes data as (filtered) JSON. It is a no-op in text mode so
// callers can fall through to their table rendering.
func (f *Formatter) Output(data any) error {
	if !IsJSON(f.ctx) {
		return nil
	}
	return WriteFiltered(f.out, data, GetQuery(f.ctx), ModeFromContext(f.ctx) == JSONL)
}

// StartTable writes headers. It returns false in JSON modes.
func (f *Formatter) StartTable(headers ...string) bool {
	if IsJSON(f.ctx) {
		return false
	}
	f.Row(headers...)
	return true
}

// Row writes one table row.
func (f *Formatter) Row(columns ...string) {
	for i, col := range columns {
		if i > 0 {
			_, _ = fmt.Fprint(f.tw, "\t")
		}
		_, _ = fmt.Fprint(f.tw, col)
	}
	_, _ = fmt.Fprintln(f.tw)
}

// EndTable flushes buffered rows.
func (f *Formatter) EndTable() error {
	return f.tw.Flush()
}

// Empty writes a notice to stderr when there is nothing to show.
func (f *Formatter) Empty(message string) {
	_, _ = fmt.Fprintln(f.errOut, message)
}
