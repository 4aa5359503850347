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

// Package smtpconn implements the wrapper over the SMTP connection
// (go-smtp.Client) object with the following features added:
// - Implicit TLS or opportunistic STARTTLS session establishment.
// - AUTH LOGIN authentication.
// - Wrapping of returned errors using the exterrors package, annotated
//   with the command in flight and the remote server.
package smtpconn

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/youssef-of-web/fast-mailer/framework/exterrors"
	"github.com/youssef-of-web/fast-mailer/framework/log"
)

// Endpoint describes the relay to submit through.
type Endpoint struct {
	Host string
	Port uint16

	// TLS enables implicit TLS on connect. When false, STARTTLS is used
	// if the server offers it.
	TLS bool
}

func (e Endpoint) Network() string {
	return "tcp"
}

func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// The C object represents one SMTP session and cannot be reused after
// Close.
type C struct {
	// Dialer to use to estabilish new network connections. Set to
	// net.Dialer DialContext by New.
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

	// Timeout for the initial TCP connection establishment.
	ConnectTimeout time.Duration

	// Timeout for session commands (EHLO, STARTTLS, AUTH, MAIL, RCPT,
	// DATA).
	CommandTimeout time.Duration

	// Timeout for the final dot.
	SubmissionTimeout time.Duration

	// Hostname to send in the EHLO command. Set to
	// 'localhost.localdomain' by New.
	Hostname string

	// tls.Config to use. Can be nil if no special changes are required.
	TLSConfig *tls.Config

	// Logger to use for debug log and certain errors.
	Log log.Logger

	serverName string
	cl         *smtp.Client
	lastCmd    string
	rcpts      []string
}

// New creates the new instance of the C object, populating the required
// fields with resonable default values.
func New() *C {
	return &C{
		Dialer:            (&net.Dialer{}).DialContext,
		ConnectTimeout:    5 * time.Second,
		CommandTimeout:    5 * time.Second,
		SubmissionTimeout: 30 * time.Second,
		TLSConfig:         &tls.Config{},
		Hostname:          "localhost.localdomain",
	}
}

// tlsConfig clones the base config with the submission TLS policy
// applied: TLS 1.2 minimum and the TLS 1.3 AEAD suites.
func (c *C) tlsConfig(serverName string) *tls.Config {
	cfg := c.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	}
	cfg = cfg.Clone()
	cfg.ServerName = serverName
	cfg.MinVersion = tls.VersionTLS12
	cfg.MaxVersion = tls.VersionTLS13
	cfg.CipherSuites = []uint16{
		tls.TLS_AES_128_GCM_SHA256,
		tls.TLS_AES_256_GCM_SHA384,
		tls.TLS_CHACHA20_POLY1305_SHA256,
	}
	cfg.PreferServerCipherSuites = true
	return cfg
}

func (c *C) wrapClientErr(err error, cmd string) error {
	if err == nil {
		return nil
	}
	c.lastCmd = cmd

	se := exterrors.Classify(err)
	se.WithMisc("last_command", cmd)
	if c.serverName != "" {
		se.WithMisc("remote_server", c.serverName)
	}
	return se
}

// Connect estabilishes the network connection with the remote host,
// executes EHLO and, unless the endpoint uses implicit TLS, the STARTTLS
// command when the server offers it.
func (c *C) Connect(ctx context.Context, endp Endpoint) (didTLS bool, err error) {
	didTLS, cl, err := c.attemptConnect(ctx, endp)
	if err != nil {
		return false, err
	}

	c.cl = cl
	return didTLS, nil
}

func (c *C) attemptConnect(ctx context.Context, endp Endpoint) (didTLS bool, cl *smtp.Client, err error) {
	c.serverName = endp.Host

	dialCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	conn, err := c.Dialer(dialCtx, endp.Network(), endp.Address())
	cancel()
	if err != nil {
		return false, nil, c.wrapClientErr(err, "CONNECT")
	}

	if endp.TLS {
		conn = tls.Client(conn, c.tlsConfig(endp.Host))
	}

	cl, err = smtp.NewClient(conn, endp.Host)
	if err != nil {
		conn.Close()
		return false, nil, c.wrapClientErr(err, "CONNECT")
	}

	cl.CommandTimeout = c.CommandTimeout
	cl.SubmissionTimeout = c.SubmissionTimeout

	if err := cl.Hello(c.Hostname); err != nil {
		cl.Close()
		return false, nil, c.wrapClientErr(err, "EHLO")
	}

	if endp.TLS {
		return true, cl, nil
	}

	if ok, _ := cl.Extension("STARTTLS"); !ok {
		return false, cl, nil
	}

	// StartTLS re-issues EHLO over the encrypted session, so post-upgrade
	// commands run on the TLS socket.
	if err := cl.StartTLS(c.tlsConfig(endp.Host)); err != nil {
		// The connection may be in a bad state after a handshake failure.
		// Attempt the proper QUIT anyway, in case the error happened after
		// the handshake (e.g. PKI verification fail).
		if err := cl.Quit(); err != nil {
			cl.Close()
		}
		return false, nil, c.wrapClientErr(err, "STARTTLS")
	}

	return true, cl, nil
}

// Auth authenticates the session with AUTH LOGIN.
func (c *C) Auth(ctx context.Context, username, password string) error {
	if err := c.cl.Auth(sasl.NewLoginClient(username, password)); err != nil {
		return c.wrapClientErr(err, "AUTH")
	}

	c.Log.DebugMsg("authenticated", "remote_server", c.serverName, "username", username)
	return nil
}

// Mail sends the MAIL FROM command to the remote server.
func (c *C) Mail(ctx context.Context, from string) error {
	if err := c.cl.Mail(from, &smtp.MailOptions{}); err != nil {
		return c.wrapClientErr(err, "MAIL FROM")
	}
	return nil
}

// Rcpt sends the RCPT TO command to the remote server.
func (c *C) Rcpt(ctx context.Context, to string) error {
	if err := c.cl.Rcpt(to); err != nil {
		return c.wrapClientErr(err, "RCPT TO")
	}

	c.rcpts = append(c.rcpts, to)
	return nil
}

// Rcpts returns the list of recipients that were accepted by the remote
// server.
func (c *C) Rcpts() []string {
	return c.rcpts
}

func (c *C) ServerName() string {
	return c.serverName
}

func (c *C) Client() *smtp.Client {
	return c.cl
}

// LastCommand returns the command in flight at the time of the most
// recent error.
func (c *C) LastCommand() string {
	return c.lastCmd
}

// Data sends the DATA command to the remote server and then sends the
// message header and body. Dot-framing of the payload is handled by the
// data writer.
//
// If the Data command fails, the connection may be in an unclean state
// (e.g. in the middle of message data stream). It is not safe to
// continue using it.
func (c *C) Data(ctx context.Context, hdr textproto.Header, body io.Reader) error {
	wc, err := c.cl.Data()
	if err != nil {
		return c.wrapClientErr(err, "DATA")
	}

	if err := textproto.WriteHeader(wc, hdr); err != nil {
		return c.wrapClientErr(err, "DATA")
	}

	if _, err := io.Copy(wc, body); err != nil {
		return c.wrapClientErr(err, "DATA")
	}

	if err := wc.Close(); err != nil {
		return c.wrapClientErr(err, "DATA")
	}

	return nil
}

// Noop probes whether a kept-alive session is still usable.
func (c *C) Noop() error {
	if c.cl == nil {
		return errors.New("smtpconn: not connected")
	}

	return c.cl.Noop()
}

// Close sends the QUIT command, if it fails - it directly closes the
// connection.
func (c *C) Close() error {
	if err := c.cl.Quit(); err != nil {
		c.Log.Error("QUIT error", c.wrapClientErr(err, "QUIT"))
		return c.cl.Close()
	}

	c.cl = nil
	c.serverName = ""

	return nil
}

// DirectClose closes the underlying connection without sending the QUIT
// command.
func (c *C) DirectClose() error {
	c.cl.Close()
	c.cl = nil
	c.serverName = ""
	return nil
}

// GenerateMessageID returns the local telemetry identifier assigned to a
// delivered message, 16 random bytes in hex.
func GenerateMessageID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
