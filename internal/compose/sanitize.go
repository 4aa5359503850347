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

package compose

import (
	"strings"
)

// SanitizeHeader removes CR, LF, TAB, VT and FF from a header value that
// derives from user input. This defeats header injection. No quoting or
// non-ASCII encoding is performed, values are emitted verbatim after
// stripping.
func SanitizeHeader(value string) string {
	return strings.Map(func(ch rune) rune {
		switch ch {
		case '\r', '\n', '\t', '\v', '\f':
			return -1
		}
		return ch
	}, value)
}

// sanitizeList sanitizes each address and joins them with ", " for use in
// To and Cc header fields.
func sanitizeList(addrs []string) string {
	sanitized := make([]string, 0, len(addrs))
	for _, a := range addrs {
		sanitized = append(sanitized, SanitizeHeader(a))
	}
	return strings.Join(sanitized, ", ")
}
