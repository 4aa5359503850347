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

// Package log implements a minimalistic structured logging library.
//
// Entries carry a level, a message and a set of key-value fields. Values of
// sensitive fields (password, auth, token, key) are masked before the entry
// reaches the output.
package log

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/youssef-of-web/fast-mailer/framework/exterrors"
	"go.uber.org/zap"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "???"
}

func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("log: unknown level: %s", s)
}

// maskedValue replaces values of sensitive fields in output.
const maskedValue = "********"

var sensitiveFields = map[string]bool{
	"password": true,
	"auth":     true,
	"token":    true,
	"key":      true,
}

// Logger is the structure that writes formatted entries to the underlying
// log.Output object.
//
// Logger is stateless and can be copied freely. However, consider that
// underlying log.Output will not be copied.
//
// Entries below MinLevel are dropped. No serialization is provided by
// Logger, it is log.Output responsibility to ensure goroutine-safety if
// necessary.
type Logger struct {
	Out      Output
	Name     string
	MinLevel Level

	// Additional fields that will be added to each entry.
	Fields map[string]interface{}

	// Names of payload fields that are copied into the entry verbatim,
	// even when their name matches a sensitive field.
	CustomFields []string
}

func (l Logger) Zap() *zap.Logger {
	return zap.New(zapCore{L: l})
}

func (l Logger) Debugf(format string, val ...interface{}) {
	l.log(LevelDebug, fmt.Sprintf(format, val...), nil)
}

// DebugMsg writes a debug-level event entry with key-value fields.
//
// Key-value pairs are built from the fields slice which should contain key
// strings followed by corresponding values. That is, for example,
// []interface{"key", "value", "key2", "value2"}.
func (l Logger) DebugMsg(kind string, fields ...interface{}) {
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(LevelDebug, kind, m)
}

// Msg writes an info-level event entry with key-value fields.
func (l Logger) Msg(msg string, fields ...interface{}) {
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(LevelInfo, msg, m)
}

func (l Logger) Printf(format string, val ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, val...), nil)
}

// Warn writes a warn-level event entry with key-value fields.
func (l Logger) Warn(msg string, fields ...interface{}) {
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(LevelWarn, msg, m)
}

// Error writes an error-level entry containing information about err. If
// err has a Fields method that returns map[string]interface{}, its result
// is added to the entry.
//
// In the context of the Error method, "msg" typically indicates the
// top-level context in which the error is *handled*. For example, if the
// error leads to the rejection of a message, msg will probably be
// "send failed".
func (l Logger) Error(msg string, err error, fields ...interface{}) {
	if err == nil {
		return
	}

	errFields := exterrors.Fields(err)
	allFields := make(map[string]interface{}, len(fields)+len(errFields)+2)
	for k, v := range errFields {
		allFields[k] = v
	}

	// If there is already a 'reason' field - use it, it probably
	// provides a better explanation than error text itself.
	if allFields["reason"] == nil {
		allFields["reason"] = err.Error()
	}
	fieldsToMap(fields, allFields)

	l.log(LevelError, msg, allFields)
}

func fieldsToMap(fields []interface{}, out map[string]interface{}) {
	var lastKey string
	for i, val := range fields {
		if i%2 == 0 {
			key, ok := val.(string)
			if !ok {
				// Misformatted arguments, attempt to provide useful message
				// anyway.
				out[fmt.Sprint("field", i)] = key
				continue
			}
			lastKey = key
		} else {
			out[lastKey] = val
		}
	}
}

// mask returns a shallow copy of fields with sensitive values replaced,
// merged with the static Logger.Fields. Fields listed in CustomFields are
// carried over from the original payload unmasked.
func (l Logger) mask(fields map[string]interface{}) map[string]interface{} {
	if len(fields)+len(l.Fields) == 0 {
		return nil
	}

	out := make(map[string]interface{}, len(fields)+len(l.Fields))
	for k, v := range l.Fields {
		out[k] = v
	}
	for k, v := range fields {
		if sensitiveFields[strings.ToLower(k)] {
			out[k] = maskedValue
			continue
		}
		out[k] = v
	}
	for _, name := range l.CustomFields {
		if v, ok := fields[name]; ok {
			out[name] = v
		}
	}
	return out
}

func (l Logger) log(level Level, msg string, fields map[string]interface{}) {
	if level < l.MinLevel {
		return
	}

	fields = l.mask(fields)

	if l.Out != nil {
		l.Out.Write(time.Now(), level, l.Name, msg, fields)
		return
	}
	if DefaultLogger.Out != nil {
		DefaultLogger.Out.Write(time.Now(), level, l.Name, msg, fields)
		return
	}

	// Logging is disabled - do nothing.
}

// DefaultLogger is the global Logger object that is used by
// package-level logging functions.
var DefaultLogger = Logger{Out: TextOutput(os.Stderr, true)}

func Debugf(format string, val ...interface{}) { DefaultLogger.Debugf(format, val...) }
func Printf(format string, val ...interface{}) { DefaultLogger.Printf(format, val...) }
