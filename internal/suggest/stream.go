package suggest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/collectdesk/convo/internal/api"
	"github.com/collectdesk/convo/internal/metrics"
)

const readSize = 4 << 10

// StreamError is a network failure while reading the suggestion stream.
// Partial holds the text accumulated before the failure.
type StreamError struct {
	Err     error
	Partial string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("suggestion stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Result is the outcome of consuming one stream.
type Result struct {
	Text string `json:"text"`
	// Complete is true when the [DONE] sentinel was seen.
	Complete bool `json:"complete"`
	// Canceled is true when the caller stopped the stream early.
	Canceled bool `json:"canceled"`
}

// Usable reports whether the suggestion can be offered to the operator.
// Canceled or truncated streams stay usable as long as some text arrived.
func (r Result) Usable() bool { return r.Text != "" }

// Consume reads r to the end, the sentinel, or cancellation of ctx. onText,
// when non-nil, receives the accumulated text each time it grows.
// Cancellation is not an error: the partial text is returned with
// Canceled=true. A read failure returns *StreamError.
func Consume(ctx context.Context, r io.Reader, onText func(string)) (Result, error) {
	p := NewParser()
	emit := func(snapshots []string) {
		if onText == nil {
			return
		}
		for _, s := range snapshots {
			onText(s)
		}
	}

	buf := make([]byte, readSize)
	for {
		if ctx.Err() != nil {
			return Result{Text: p.Text(), Canceled: true}, nil
		}
		n, err := r.Read(buf)
		if n > 0 && ctx.Err() == nil {
			emit(p.Feed(buf[:n]))
			if p.Done() {
				return Result{Text: p.Text(), Complete: true}, nil
			}
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return Result{Text: p.Text(), Canceled: true}, nil
		}
		if errors.Is(err, io.EOF) {
			emit(p.Flush())
			if p.Dropped() > 0 {
				slog.Debug("suggestion stream dropped undecodable lines", "count", p.Dropped())
			}
			return Result{Text: p.Text(), Complete: p.Done()}, nil
		}
		return Result{Text: p.Text()}, &StreamError{Err: err, Partial: p.Text()}
	}
}

// Opener starts a suggestion stream. *api.Client implements it.
type Opener interface {
	OpenSuggestionStream(ctx context.Context, req api.SuggestionRequest) (io.ReadCloser, error)
}

// Generate opens a stream for req and consumes it.
func Generate(ctx context.Context, opener Opener, req api.SuggestionRequest, onText func(string)) (Result, error) {
	body, err := opener.OpenSuggestionStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			metrics.SuggestionStreams.WithLabelValues("canceled").Inc()
			return Result{Canceled: true}, nil
		}
		metrics.SuggestionStreams.WithLabelValues("error").Inc()
		return Result{}, err
	}
	defer func() { _ = body.Close() }()

	res, err := Consume(ctx, body, onText)
	switch {
	case err != nil:
		metrics.SuggestionStreams.WithLabelValues("error").Inc()
		slog.Warn("suggestion stream failed", "conversation", req.ConversationID, "error", err, "partial_len", len(res.Text))
	case res.Canceled:
		metrics.SuggestionStreams.WithLabelValues("canceled").Inc()
	case res.Complete:
		metrics.SuggestionStreams.WithLabelValues("complete").Inc()
	default:
		metrics.SuggestionStreams.WithLabelValues("eof").Inc()
	}
	return res, err
}
