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

package fastmailer

import (
	"time"

	"github.com/youssef-of-web/fast-mailer/framework/exterrors"
	"github.com/youssef-of-web/fast-mailer/internal/compose"
)

// Attachment describes one attachment of a request, by file path or
// inline content.
type Attachment = compose.Attachment

// Request describes one message to submit.
type Request struct {
	To  []string
	Cc  []string
	Bcc []string

	Subject string
	Text    string
	HTML    string

	Attachments []Attachment

	// Priority is "high", "normal"/"" or "low".
	Priority string

	// Headers are additional header fields. Core fields (From, To, Cc,
	// Bcc, Subject, MIME-Version, Content-Type) cannot be overridden.
	Headers map[string]string
}

// recipients returns To, Cc and Bcc merged in input order with
// duplicates removed. These are the envelope recipients; Bcc never
// appears in the message header.
func (r Request) recipients() []string {
	seen := make(map[string]struct{}, len(r.To)+len(r.Cc)+len(r.Bcc))
	out := make([]string, 0, len(r.To)+len(r.Cc)+len(r.Bcc))
	for _, group := range [][]string{r.To, r.Cc, r.Bcc} {
		for _, rcpt := range group {
			if _, ok := seen[rcpt]; ok {
				continue
			}
			seen[rcpt] = struct{}{}
			out = append(out, rcpt)
		}
	}
	return out
}

// SendResult is the outcome of one SendMail call.
type SendResult struct {
	Success bool

	// MessageID is a local telemetry identifier (16 random bytes, hex).
	// It is not emitted as a Message-Id header.
	MessageID string

	Error *exterrors.SendError

	Recipients []string
	Timestamp  time.Time
}
