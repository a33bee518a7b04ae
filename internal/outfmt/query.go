package outfmt

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/itchyny/gojq"
)

// Apply runs a jq expression over v. v is round-tripped through JSON first
// so struct tags decide the field names. A single result is returned bare;
// several come back as a slice.
func Apply(v any, expression string) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return v, nil
	}
	// zsh escapes ! even inside single quotes.
	expression = strings.ReplaceAll(expression, `\!`, `!`)
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var input any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var results []any
	iter := query.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := out.(error); ok {
			return nil, fmt.Errorf("filter error: %w", err)
		}
		results = append(results, out)
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

// WriteFiltered applies the query and writes the result as JSON.
func WriteFiltered(w io.Writer, v any, query string, compact bool) error {
	filtered, err := Apply(v, query)
	if err != nil {
		return err
	}
	return WriteJSON(w, filtered, compact)
}
