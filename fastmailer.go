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

// Package fastmailer is an outbound SMTP submission client. It composes
// multipart MIME messages, submits them to a configured relay over
// implicit TLS or STARTTLS with AUTH LOGIN, enforces a per-recipient
// rate-limit and ban policy, and accumulates delivery metrics.
package fastmailer

import (
	"context"
	"crypto/tls"
	"io"
	"os"
	"sync"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"github.com/youssef-of-web/fast-mailer/framework/address"
	"github.com/youssef-of-web/fast-mailer/framework/exterrors"
	"github.com/youssef-of-web/fast-mailer/framework/log"
	"github.com/youssef-of-web/fast-mailer/internal/compose"
	"github.com/youssef-of-web/fast-mailer/internal/limits"
	"github.com/youssef-of-web/fast-mailer/internal/metrics"
	"github.com/youssef-of-web/fast-mailer/internal/smtpconn"
)

// Mailer submits messages through one SMTP relay. SendMail calls are
// serialized, a Mailer is safe for use from multiple goroutines.
type Mailer struct {
	cfg     Config
	log     log.Logger
	limiter *limits.L
	metrics *metrics.Recorder

	// tlsConfig overrides the session TLS configuration, used by tests.
	tlsConfig *tls.Config

	sendLck sync.Mutex
	conn    *smtpconn.C
}

// New constructs a Mailer. It fails when the sender address or the relay
// endpoint is missing.
func New(cfg Config) (*Mailer, error) {
	cfg.setDefaults()
	if err := cfg.check(); err != nil {
		return nil, err
	}

	logger := buildLogger(cfg.Logging)

	if cfg.Port == 465 && !cfg.Secure {
		logger.Warn("port 465 is submission over implicit TLS, enabling secure mode",
			"port", cfg.Port)
		cfg.Secure = true
	}

	m := &Mailer{
		cfg:     cfg,
		log:     logger,
		metrics: metrics.NewRecorder(),
	}
	m.limiter = limits.New(cfg.RateLimit.limiterConfig(), m.metrics)
	return m, nil
}

// SendMail validates, rate-limits, composes and submits one message.
//
// The returned SendResult is non-nil in both outcomes; on failure its
// Error field carries the same *exterrors.SendError as the returned
// error.
func (m *Mailer) SendMail(ctx context.Context, req Request) (*SendResult, error) {
	m.sendLck.Lock()
	defer m.sendLck.Unlock()

	dl := m.log
	dl.Fields = map[string]interface{}{
		"delivery_id": uuid.New().String(),
	}

	rcpts := req.recipients()
	result := &SendResult{
		Recipients: rcpts,
		Timestamp:  time.Now(),
	}

	dl.DebugMsg("send attempt", "recipients", rcpts, "subject", req.Subject)

	if len(rcpts) == 0 {
		return m.reject(dl, result, exterrors.New(
			exterrors.CodeInvalidEmail, exterrors.KindValidation,
			"no recipients specified"))
	}
	for _, rcpt := range rcpts {
		if !address.Valid(rcpt) {
			se := exterrors.New(exterrors.CodeInvalidEmail, exterrors.KindValidation,
				"invalid recipient address")
			se.WithMisc("recipient", rcpt)
			return m.reject(dl, result, se)
		}
	}

	if !m.cfg.RateLimit.Disable {
		for _, rcpt := range rcpts {
			if err := m.limiter.Check(rcpt); err != nil {
				return m.reject(dl, result, exterrors.AsSendError(err))
			}
		}
	}

	if !m.cfg.SkipVerify {
		if err := m.probe(ctx, dl); err != nil {
			m.metrics.RecordConnectionProbeFailure()
			se := exterrors.New(exterrors.CodeConnection, exterrors.KindConnection,
				"connection verification failed")
			se.Err = err
			dl.Error("send failed", se)
			result.Error = se
			return result, se
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	hdr, body, err := compose.Build(compose.Message{
		From:        m.cfg.From,
		To:          req.To,
		Cc:          req.Cc,
		Subject:     req.Subject,
		Text:        req.Text,
		HTML:        req.HTML,
		Attachments: req.Attachments,
		Priority:    req.Priority,
		Extra:       req.Headers,
	}, cwd)
	if err != nil {
		return m.reject(dl, result, exterrors.Classify(err))
	}

	start := time.Now()
	conn, err := m.session(ctx, dl)
	if err == nil {
		err = m.transaction(ctx, conn, rcpts, hdr, body)
	}
	elapsed := time.Since(start)

	if err != nil {
		se := exterrors.Classify(err)
		m.metrics.RecordFailure(metrics.FailureRecord{
			Code:       se.Code,
			Kind:       se.Kind,
			Message:    se.Message,
			Recipients: rcpts,
		}, elapsed)
		m.limiter.RecordFailure(rcpts)
		// The session may be freshly dialed and not yet stored in m.conn,
		// close the local handle so a failed transaction never leaks the
		// socket.
		if conn != nil {
			conn.DirectClose()
		}
		m.conn = nil
		dl.Error("send failed", se, "recipients", rcpts)
		result.Error = se
		return result, se
	}

	id, err := smtpconn.GenerateMessageID()
	if err != nil {
		id = ""
	}
	m.metrics.RecordSuccess(elapsed)
	m.limiter.RecordSuccess(rcpts)

	if m.cfg.KeepAlive {
		m.conn = conn
	} else {
		conn.Close()
		m.conn = nil
	}

	dl.Msg("delivered", "message_id", id, "recipients", rcpts,
		"duration", elapsed)

	result.Success = true
	result.MessageID = id
	return result, nil
}

// reject finishes a send that never reached the transaction. The totals
// counters are left alone, only the error breakdown and the failure
// ledger move.
func (m *Mailer) reject(dl log.Logger, result *SendResult, se *exterrors.SendError) (*SendResult, error) {
	m.metrics.RecordRejection(metrics.FailureRecord{
		Code:       se.Code,
		Kind:       se.Kind,
		Message:    se.Message,
		Recipients: result.Recipients,
	})
	dl.Error("send rejected", se)
	result.Error = se
	return result, se
}

// transaction runs MAIL FROM, RCPT TO for each recipient and DATA on an
// established session.
func (m *Mailer) transaction(ctx context.Context, conn *smtpconn.C, rcpts []string, hdr textproto.Header, body io.Reader) error {
	if err := conn.Mail(ctx, m.cfg.From); err != nil {
		return err
	}
	for _, rcpt := range rcpts {
		if err := conn.Rcpt(ctx, rcpt); err != nil {
			return err
		}
	}
	return conn.Data(ctx, hdr, body)
}

// session returns the connection to run the transaction on. With
// KeepAlive set, the previous session is reused when a NOOP probe shows
// it is still alive, otherwise it is redialed.
func (m *Mailer) session(ctx context.Context, dl log.Logger) (*smtpconn.C, error) {
	if m.cfg.KeepAlive && m.conn != nil {
		if err := m.conn.Noop(); err == nil {
			return m.conn, nil
		}

		dl.DebugMsg("kept-alive session lost, reconnecting")
		m.metrics.RecordRetryAttempt()
		m.conn.DirectClose()
		m.conn = nil

		conn, err := m.dial(ctx, dl)
		if err != nil {
			return nil, err
		}
		m.metrics.RecordSuccessfulRetry()
		return conn, nil
	}

	return m.dial(ctx, dl)
}

func (m *Mailer) dial(ctx context.Context, dl log.Logger) (*smtpconn.C, error) {
	c := smtpconn.New()
	c.Log = dl
	c.ConnectTimeout = m.cfg.Timeout
	c.CommandTimeout = m.cfg.Timeout
	c.SubmissionTimeout = 2 * m.cfg.Timeout
	if m.cfg.Hostname != "" {
		c.Hostname = m.cfg.Hostname
	}
	if m.tlsConfig != nil {
		c.TLSConfig = m.tlsConfig
	}

	if _, err := c.Connect(ctx, smtpconn.Endpoint{
		Host: m.cfg.Host,
		Port: m.cfg.Port,
		TLS:  m.cfg.Secure,
	}); err != nil {
		return nil, err
	}

	if m.cfg.Auth.User != "" {
		if err := c.Auth(ctx, m.cfg.Auth.User, m.cfg.Auth.Pass); err != nil {
			c.DirectClose()
			return nil, err
		}
	}

	return c, nil
}

// probe opens a session and immediately closes it.
func (m *Mailer) probe(ctx context.Context, dl log.Logger) error {
	c, err := m.dial(ctx, dl)
	if err != nil {
		return err
	}
	return c.Close()
}

// VerifyConnection reports whether a session to the relay can be
// established (including TLS negotiation and authentication).
func (m *Mailer) VerifyConnection(ctx context.Context) bool {
	if err := m.probe(ctx, m.log); err != nil {
		m.metrics.RecordConnectionProbeFailure()
		m.log.Error("connection verification failed", err)
		return false
	}
	return true
}

// Metrics returns a snapshot of the delivery statistics.
func (m *Mailer) Metrics() metrics.Snapshot {
	return m.metrics.Snapshot()
}

// Close shuts down the kept-alive session, if any, and the log output.
func (m *Mailer) Close() error {
	m.sendLck.Lock()
	defer m.sendLck.Unlock()

	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.log.Out != nil {
		return m.log.Out.Close()
	}
	return nil
}
