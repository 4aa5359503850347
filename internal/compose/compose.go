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

// Package compose builds the multipart/mixed DATA payload of a message.
//
// The payload is split into a MIME header and a body so that the
// transaction engine can stream them separately. The SMTP dot terminator
// is not part of the composer output, dot-framing is done by the
// transport.
package compose

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// Message is the composer input. Bcc recipients are intentionally absent:
// they appear in the envelope only, never in the header.
type Message struct {
	From    string
	To      []string
	Cc      []string
	Subject string

	Text string
	HTML string

	Attachments []Attachment

	// Priority is "high", "normal"/"" or "low" and is emitted as
	// X-Priority/Importance fields.
	Priority string

	// Extra headers emitted after Subject. Core fields cannot be
	// overridden through it.
	Extra map[string]string
}

// Core header fields that Message.Extra cannot override.
var reservedFields = map[string]bool{
	"mime-version": true,
	"from":         true,
	"to":           true,
	"cc":           true,
	"bcc":          true,
	"subject":      true,
	"content-type": true,
}

// GenerateBoundary returns a fresh multipart boundary in the form
// "----" followed by 32 hex characters from a cryptographic RNG.
func GenerateBoundary() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return "----" + hex.EncodeToString(raw), nil
}

// Build composes the MIME header and multipart/mixed body for msg.
// Attachment paths are resolved against cwd.
//
// Part order is fixed: text, html, then attachments in input order.
func Build(msg Message, cwd string) (textproto.Header, *bytes.Buffer, error) {
	boundary, err := GenerateBoundary()
	if err != nil {
		return textproto.Header{}, nil, err
	}

	// textproto.Header.Add prepends, fields are added in reverse of the
	// desired output order.
	hdr := textproto.Header{}
	hdr.Add("Content-Type", `multipart/mixed; boundary="`+boundary+`"`)
	switch msg.Priority {
	case "high":
		hdr.Add("Importance", "high")
		hdr.Add("X-Priority", "1")
	case "low":
		hdr.Add("Importance", "low")
		hdr.Add("X-Priority", "5")
	}
	for _, k := range sortedExtraFields(msg.Extra) {
		hdr.Add(k, SanitizeHeader(msg.Extra[k]))
	}
	hdr.Add("Subject", SanitizeHeader(msg.Subject))
	if len(msg.Cc) != 0 {
		hdr.Add("Cc", sanitizeList(msg.Cc))
	}
	hdr.Add("To", sanitizeList(msg.To))
	hdr.Add("From", SanitizeHeader(msg.From))
	hdr.Add("MIME-Version", "1.0")

	body := new(bytes.Buffer)
	partWriter := textproto.NewMultipartWriter(body)
	if err := partWriter.SetBoundary(boundary); err != nil {
		return textproto.Header{}, nil, err
	}

	if msg.Text != "" {
		if err := writeTextPart(partWriter, "text/plain; charset=utf-8", msg.Text); err != nil {
			return textproto.Header{}, nil, err
		}
	}
	if msg.HTML != "" {
		if err := writeTextPart(partWriter, "text/html; charset=utf-8", msg.HTML); err != nil {
			return textproto.Header{}, nil, err
		}
	}

	for _, a := range msg.Attachments {
		loaded, err := loadAttachment(a, cwd)
		if err != nil {
			return textproto.Header{}, nil, err
		}
		if loaded == nil {
			continue
		}
		if err := writeAttachmentPart(partWriter, loaded); err != nil {
			return textproto.Header{}, nil, err
		}
	}

	if err := partWriter.Close(); err != nil {
		return textproto.Header{}, nil, err
	}

	return hdr, body, nil
}

func sortedExtraFields(extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if reservedFields[strings.ToLower(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeTextPart(w *textproto.MultipartWriter, contentType, content string) error {
	partHeader := textproto.Header{}
	partHeader.Add("Content-Type", contentType)

	partW, err := w.CreatePart(partHeader)
	if err != nil {
		return err
	}
	_, err = io.WriteString(partW, content)
	return err
}

func writeAttachmentPart(w *textproto.MultipartWriter, a *loadedAttachment) error {
	partHeader := textproto.Header{}
	partHeader.Add("Content-Transfer-Encoding", "base64")
	partHeader.Add("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, SanitizeHeader(a.filename)))
	partHeader.Add("Content-Type", a.contentType)

	partW, err := w.CreatePart(partHeader)
	if err != nil {
		return err
	}
	return writeBase64(partW, a.content)
}

// writeBase64 writes content base64-encoded, folded at 76 columns so that
// no DATA line exceeds the RFC 5321 limit.
func writeBase64(w io.Writer, content []byte) error {
	enc := base64.StdEncoding.EncodeToString(content)
	for len(enc) > 0 {
		n := 76
		if len(enc) < n {
			n = len(enc)
		}
		if _, err := io.WriteString(w, enc[:n]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
		enc = enc[n:]
	}
	return nil
}
