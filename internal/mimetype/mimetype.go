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

// Package mimetype maps file extensions to media types for attachment
// parts.
package mimetype

import (
	"path/filepath"
	"strings"
)

// DefaultType is used when the extension is unknown.
const DefaultType = "application/octet-stream"

var byExtension = map[string]string{
	// Documents.
	".txt":  "text/plain",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".md":   "text/markdown",
	".rtf":  "application/rtf",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".json": "application/json",
	".xml":  "application/xml",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".ics":  "text/calendar",

	// Images.
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".ico":  "image/vnd.microsoft.icon",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".avif": "image/avif",

	// Audio.
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".mid":  "audio/midi",
	".midi": "audio/midi",
	".weba": "audio/webm",

	// Video.
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".webm": "video/webm",
	".ogv":  "video/ogg",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",

	// Fonts.
	".ttf":   "font/ttf",
	".otf":   "font/otf",
	".woff":  "font/woff",
	".woff2": "font/woff2",

	// Archives.
	".zip": "application/zip",
	".tar": "application/x-tar",
	".gz":  "application/gzip",
	".bz2": "application/x-bzip2",
	".xz":  "application/x-xz",
	".7z":  "application/x-7z-compressed",
	".rar": "application/vnd.rar",

	// Certificates and keys.
	".pem": "application/x-pem-file",
	".crt": "application/x-x509-ca-cert",
	".cer": "application/x-x509-ca-cert",
	".der": "application/x-x509-ca-cert",
	".p12": "application/x-pkcs12",
	".pfx": "application/x-pkcs12",
	".csr": "application/pkcs10",

	// Source code.
	".c":    "text/x-c",
	".h":    "text/x-c",
	".cpp":  "text/x-c++",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".rb":   "text/x-ruby",
	".rs":   "text/x-rust",
	".java": "text/x-java-source",
	".js":   "text/javascript",
	".mjs":  "text/javascript",
	".ts":   "text/x-typescript",
	".css":  "text/css",
	".sh":   "application/x-sh",
	".sql":  "application/sql",
}

// ByExtension resolves a media type from a file extension (with the
// leading dot). Lookup is case-insensitive. Unknown extensions resolve
// to DefaultType.
func ByExtension(ext string) string {
	if t, ok := byExtension[strings.ToLower(ext)]; ok {
		return t
	}
	return DefaultType
}

// ForFilename resolves a media type from the extension of the passed file
// name.
func ForFilename(filename string) string {
	return ByExtension(filepath.Ext(filename))
}
