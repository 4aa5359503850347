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

package exterrors

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/emersion/go-smtp"
)

// Kind is the coarse classification of a delivery failure. It determines
// which errors_by_type counter is incremented in metrics.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnection
	KindAuthentication
	KindRateLimit
	KindValidation
	KindTimeout
	KindAttachment
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection_error"
	case KindAuthentication:
		return "authentication_error"
	case KindRateLimit:
		return "rate_limit_error"
	case KindValidation:
		return "validation_error"
	case KindTimeout:
		return "timeout_error"
	case KindAttachment:
		return "attachment_error"
	case KindCommand:
		return "command_error"
	}
	return "unknown_error"
}

// Kinds returns all defined kinds, used to pre-populate per-kind counters.
func Kinds() []Kind {
	return []Kind{
		KindUnknown, KindConnection, KindAuthentication, KindRateLimit,
		KindValidation, KindTimeout, KindAttachment, KindCommand,
	}
}

// Error codes surfaced to the caller via SendError.Code.
const (
	CodeInvalidEmail = "EINVALIDEMAIL"
	CodeTimedOut     = "ETIMEDOUT"
	CodeConnection   = "ECONNECTION"
	CodeCommand      = "ECOMMAND"
	CodeRateLimit    = "ERATELIMIT"
	CodeAttachment   = "EATTACHMENT"
	CodeUnknown      = "EUNKNOWN"
)

// SendError is the error record surfaced by every failure path of the
// mailer. It carries a stable code, the failure kind and a free-form
// context map (last command sent, server response, remote address and the
// like).
type SendError struct {
	Code      string
	Kind      Kind
	Message   string
	Misc      map[string]interface{}
	Timestamp time.Time

	// Underlying error, if any. Not included in Fields, use Unwrap.
	Err error
}

func (e *SendError) Error() string {
	return e.Message
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func (e *SendError) Temporary() bool {
	return e.Kind == KindConnection || e.Kind == KindTimeout || e.Kind == KindRateLimit
}

func (e *SendError) Fields() map[string]interface{} {
	ctx := make(map[string]interface{}, len(e.Misc)+3)
	for k, v := range e.Misc {
		ctx[k] = v
	}
	ctx["code"] = e.Code
	ctx["kind"] = e.Kind.String()
	if !e.Timestamp.IsZero() {
		ctx["timestamp"] = e.Timestamp
	}
	return ctx
}

// New constructs a SendError with the current timestamp.
func New(code string, kind Kind, message string) *SendError {
	return &SendError{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithMisc attaches a context entry, allocating the map lazily.
func (e *SendError) WithMisc(key string, value interface{}) *SendError {
	if e.Misc == nil {
		e.Misc = make(map[string]interface{}, 2)
	}
	e.Misc[key] = value
	return e
}

// AsSendError returns err as a *SendError if it is one, nil otherwise.
func AsSendError(err error) *SendError {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr
	}
	return nil
}

// Classify maps an arbitrary error from the transaction path onto the
// code/kind taxonomy. Already-classified errors are returned unchanged.
//
// SMTP protocol errors keep the server reply in the "server_response"
// context entry. I/O timeouts on an established session are timeout_error,
// dial timeouts are connection_error with the ETIMEDOUT code.
func Classify(err error) *SendError {
	if err == nil {
		return nil
	}

	if sendErr := AsSendError(err); sendErr != nil {
		return sendErr
	}

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		kind := KindCommand
		// 530/535 and the AUTH continuation failures indicate rejected
		// credentials rather than a protocol problem.
		if smtpErr.Code == 530 || smtpErr.Code == 535 || smtpErr.Code == 454 {
			kind = KindAuthentication
		}
		se := New(CodeCommand, kind, smtpErr.Message)
		se.Err = err
		se.WithMisc("server_response", smtpErr.Error())
		se.WithMisc("smtp_code", smtpErr.Code)
		return se
	}

	if errors.Is(err, context.DeadlineExceeded) {
		se := New(CodeTimedOut, KindTimeout, "I/O deadline reached")
		se.Err = err
		return se
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			se := New(CodeTimedOut, KindConnection, "connection timed out")
			se.Err = err
			se.WithMisc("remote_addr", opErr.Addr)
			return se
		}
		se := New(CodeTimedOut, KindTimeout, "I/O timeout")
		se.Err = err
		return se
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		se := New(CodeConnection, KindConnection, "network I/O error")
		se.Err = err
		se.WithMisc("remote_addr", opErr.Addr)
		se.WithMisc("io_op", opErr.Op)
		return se
	}

	se := New(CodeUnknown, KindUnknown, err.Error())
	se.Err = err
	return se
}
