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
	"time"
)

// Output renders and writes finished log entries. The fields map is
// already masked by Logger and must not be mutated.
type Output interface {
	Write(stamp time.Time, level Level, name, msg string, fields map[string]interface{})
	Close() error
}

type multiOut struct {
	outs []Output
}

func (m multiOut) Write(stamp time.Time, level Level, name, msg string, fields map[string]interface{}) {
	for _, out := range m.outs {
		out.Write(stamp, level, name, msg, fields)
	}
}

func (m multiOut) Close() error {
	for _, out := range m.outs {
		if err := out.Close(); err != nil {
			return err
		}
	}
	return nil
}

func MultiOutput(outputs ...Output) Output {
	return multiOut{outputs}
}

type funcOut struct {
	out   func(time.Time, Level, string, string, map[string]interface{})
	close func() error
}

func (f funcOut) Write(stamp time.Time, level Level, name, msg string, fields map[string]interface{}) {
	f.out(stamp, level, name, msg, fields)
}

func (f funcOut) Close() error {
	return f.close()
}

func FuncOutput(f func(time.Time, Level, string, string, map[string]interface{}), close func() error) Output {
	return funcOut{f, close}
}

type NopOutput struct{}

func (NopOutput) Write(time.Time, Level, string, string, map[string]interface{}) {}

func (NopOutput) Close() error { return nil }
