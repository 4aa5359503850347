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
	"os"
	"path/filepath"

	"github.com/youssef-of-web/fast-mailer/framework/exterrors"
	"github.com/youssef-of-web/fast-mailer/internal/mimetype"
)

// Attachment describes one attachment of a message. Either Path or
// Content must be set; an entry with neither is silently skipped.
type Attachment struct {
	// Path of the file to attach, absolute or relative to the process
	// working directory.
	Path string

	// Inline attachment content, used when Path is empty.
	Content []byte

	// Filename to use in the Content-Disposition field. Derived from Path
	// when empty ("attachment" for inline content).
	Filename string

	// Explicit media type. Resolved from the filename extension when
	// empty.
	ContentType string
}

type loadedAttachment struct {
	filename    string
	contentType string
	content     []byte
}

func attachmentError(msg, path string, err error) error {
	se := exterrors.New(exterrors.CodeAttachment, exterrors.KindAttachment, msg)
	se.Err = err
	if path != "" {
		se.WithMisc("path", path)
	}
	return se
}

// loadAttachment resolves and reads one attachment entry. cwd is used to
// resolve relative paths. A nil result with nil error means the entry
// should be skipped.
func loadAttachment(a Attachment, cwd string) (*loadedAttachment, error) {
	switch {
	case a.Path != "":
		path := filepath.Clean(a.Path)
		if !filepath.IsAbs(path) {
			path = filepath.Join(cwd, path)
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, attachmentError("attachment file does not exist", path, err)
		}
		if info.IsDir() {
			return nil, attachmentError("attachment path is a directory", path, nil)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, attachmentError("attachment file is not readable", path, err)
		}

		filename := a.Filename
		if filename == "" {
			filename = filepath.Base(path)
		} else if filepath.Ext(filename) == "" {
			filename += filepath.Ext(path)
		}

		return &loadedAttachment{
			filename:    filename,
			contentType: resolveContentType(a.ContentType, filename),
			content:     content,
		}, nil
	case a.Content != nil:
		filename := a.Filename
		if filename == "" {
			filename = "attachment"
		}
		return &loadedAttachment{
			filename:    filename,
			contentType: resolveContentType(a.ContentType, filename),
			content:     a.Content,
		}, nil
	default:
		return nil, nil
	}
}

func resolveContentType(explicit, filename string) string {
	if explicit != "" {
		return explicit
	}
	return mimetype.ForFilename(filename)
}
