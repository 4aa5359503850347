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

package testutils

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/youssef-of-web/fast-mailer/framework/log"
)

var (
	debugLog  = flag.Bool("test.debuglog", false, "(fast-mailer) Turn on debug log messages")
	directLog = flag.Bool("test.directlog", false, "(fast-mailer) Log to stderr instead of test log")
)

func Logger(t *testing.T, name string) log.Logger {
	minLevel := log.LevelInfo
	if *debugLog {
		minLevel = log.LevelDebug
	}

	if *directLog {
		return log.Logger{
			Out:      log.TextOutput(os.Stderr, true),
			Name:     name,
			MinLevel: minLevel,
		}
	}

	return log.Logger{
		Out: log.FuncOutput(func(_ time.Time, level log.Level, name, msg string, fields map[string]interface{}) {
			t.Helper()
			if len(fields) != 0 {
				t.Logf("%s: %s: %s %v", level, name, msg, fields)
				return
			}
			t.Logf("%s: %s: %s", level, name, msg)
		}, func() error {
			return nil
		}),
		Name:     name,
		MinLevel: minLevel,
	}
}
