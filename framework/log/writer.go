/*
fast-mailer - Outbound SMTP submission client.
Copyright © 2024 fast-mailer contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type textOut struct {
	timestamps bool
	wc         io.WriteCloser
	ownsFile   bool
}

func (w textOut) Write(stamp time.Time, level Level, name, msg string, fields map[string]interface{}) {
	builder := strings.Builder{}
	if w.timestamps {
		builder.WriteRune('[')
		builder.WriteString(stamp.UTC().Format("2006-01-02T15:04:05.000Z"))
		builder.WriteString("] ")
	}
	builder.WriteString(strings.ToUpper(level.String()))
	builder.WriteString(": ")
	if name != "" {
		builder.WriteString(name)
		builder.WriteString(": ")
	}
	builder.WriteString(msg)
	if len(fields) != 0 {
		builder.WriteRune('\t')
		if err := marshalOrderedJSON(&builder, fields); err != nil {
			fmt.Fprintf(os.Stderr, "!!! Failed to format log message: %v\n", err)
			return
		}
	}
	builder.WriteRune('\n')
	if _, err := io.WriteString(w.wc, builder.String()); err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to write message to log: %v\n", err)
	}
}

func (w textOut) Close() error {
	if !w.ownsFile {
		return nil
	}
	return w.wc.Close()
}

// TextOutput returns a log.Output implementation that writes entries in the
// form "[timestamp] LEVEL: message\t{fields}" to the provided io.Writer.
//
// Returned log.Output does not provide its own serialization so
// goroutine-safety depends on the io.Writer. Most operating systems have
// atomic implementations for stream I/O, so it should be safe to use it
// with os.File.
func TextOutput(w io.Writer, timestamps bool) Output {
	return textOut{timestamps: timestamps, wc: nopCloser{w}}
}

type jsonOut struct {
	wc       io.WriteCloser
	ownsFile bool
}

func (w jsonOut) Write(stamp time.Time, level Level, name, msg string, fields map[string]interface{}) {
	doc := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		doc[k] = v
	}
	doc["ts"] = stamp.UTC()
	doc["level"] = level.String()
	doc["msg"] = msg
	if name != "" {
		doc["logger"] = name
	}

	builder := strings.Builder{}
	if err := marshalOrderedJSON(&builder, doc); err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to format log message: %v\n", err)
		return
	}
	builder.WriteRune('\n')
	if _, err := io.WriteString(w.wc, builder.String()); err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to write message to log: %v\n", err)
	}
}

func (w jsonOut) Close() error {
	if !w.ownsFile {
		return nil
	}
	return w.wc.Close()
}

// JSONOutput returns a log.Output implementation that writes one JSON
// object per line to the provided io.Writer. Fields are serialized in a
// deterministic (sorted) order.
func JSONOutput(w io.Writer) Output {
	return jsonOut{wc: nopCloser{w}}
}

type nopCloser struct {
	io.Writer
}

func (nc nopCloser) Close() error {
	return nil
}

// FileOutput opens path in append mode (creating parent directories if
// needed) and returns an Output writing entries to it in the requested
// format ("json" or "text"). Closing the returned Output closes the file.
func FileOutput(path, format string) (Output, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log: cannot create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log: cannot open log file: %w", err)
	}

	if format == "text" {
		return textOut{timestamps: true, wc: f, ownsFile: true}, nil
	}
	return jsonOut{wc: f, ownsFile: true}, nil
}
