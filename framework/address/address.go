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

// Package address implements syntactic validation of e-mail addresses.
//
// Rules are a subset of the RFC 5321 grammar. No DNS or MX checks are
// performed.
package address

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/net/idna"
)

// Split separates addr into the mailbox and domain parts.
func Split(addr string) (mailbox, domain string, err error) {
	indx := strings.LastIndexByte(addr, '@')
	if indx == -1 {
		return "", "", errors.New("address: missing at-sign")
	}
	mailbox = addr[:indx]
	domain = addr[indx+1:]
	if mailbox == "" {
		return "", "", errors.New("address: empty mailbox part")
	}
	if domain == "" {
		return "", "", errors.New("address: empty domain part")
	}
	return
}

// atext characters permitted inside a dot-atom, in addition to ASCII
// alphanumerics (RFC 5322 Section 3.2.3).
var atomSpecial = map[rune]bool{
	'!': true, '#': true,
	'$': true, '%': true,
	'&': true, '\'': true,
	'*': true, '+': true,
	'-': true, '/': true,
	'=': true, '?': true,
	'^': true, '_': true,
	'`': true, '{': true,
	'|': true, '}': true,
	'~': true,
}

func isAlnum(ch rune) bool {
	if ch >= '0' && ch <= '9' {
		return true
	}
	if ch >= 'A' && ch <= 'Z' {
		return true
	}
	return ch >= 'a' && ch <= 'z'
}

// Valid checks whether the string is acceptable as a submission address.
//
// An address is accepted iff it is non-empty, contains no whitespace, no
// "..", no leading or trailing dot and no "@@"; the mailbox part is a
// dot-separated sequence of atoms that start and end with an alphanumeric
// character; the domain is a dot-separated sequence of LDH labels with at
// least one dot.
func Valid(addr string) bool {
	if addr == "" {
		return false
	}
	for _, ch := range addr {
		if unicode.IsSpace(ch) {
			return false
		}
	}
	if strings.Contains(addr, "..") || strings.Contains(addr, "@@") {
		return false
	}
	if strings.HasPrefix(addr, ".") || strings.HasSuffix(addr, ".") {
		return false
	}

	mbox, domain, err := Split(addr)
	if err != nil {
		return false
	}

	return validMailbox(mbox) && validDomain(domain)
}

func validMailbox(mbox string) bool {
	if strings.HasPrefix(mbox, ".") || strings.HasSuffix(mbox, ".") {
		return false
	}

	for _, atom := range strings.Split(mbox, ".") {
		if atom == "" {
			return false
		}
		runes := []rune(atom)
		if !isAlnum(runes[0]) || !isAlnum(runes[len(runes)-1]) {
			return false
		}
		for _, ch := range runes {
			if !isAlnum(ch) && !atomSpecial[ch] {
				return false
			}
		}
	}
	return true
}

func validDomain(domain string) bool {
	if len(domain) > 255 {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}

	// Length checks apply to the A-labels form.
	domainASCII, err := idna.ToASCII(domain)
	if err != nil {
		return false
	}

	for _, label := range strings.Split(domainASCII, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		runes := []rune(label)
		if !isAlnum(runes[0]) || !isAlnum(runes[len(runes)-1]) {
			return false
		}
		for _, ch := range runes {
			if !isAlnum(ch) && ch != '-' {
				return false
			}
		}
	}
	return true
}
