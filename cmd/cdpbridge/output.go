package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"

	"github.com/roelfdiedericks/cdpbridge/internal/config"
)

// printJSON writes v as indented JSON, or the results of the jq filter
// applied to it. String results are printed raw like jq -r.
func printJSON(w io.Writer, filter string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if filter == "" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("jq: %w", err)
	}
	// gojq works on plain maps and slices
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return err
	}

	iter := query.Run(input)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, ok := out.(error); ok {
			return fmt.Errorf("jq: %w", err)
		}
		if s, ok := out.(string); ok {
			fmt.Fprintln(w, s)
			continue
		}
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(b))
	}
}

// writeTrace streams events to path in Chrome's trace event format, one event
// per line, so a large trace is never held twice in memory. The file is world
// readable for trace viewers.
func writeTrace(path string, events []json.RawMessage) error {
	return config.WriteAtomic(path, 0644, func(w io.Writer) error {
		if _, err := io.WriteString(w, `{"traceEvents":[`); err != nil {
			return err
		}
		for i, ev := range events {
			sep := "\n"
			if i > 0 {
				sep = ",\n"
			}
			if _, err := io.WriteString(w, sep); err != nil {
				return err
			}
			if _, err := w.Write(ev); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, "\n]}\n")
		return err
	})
}
