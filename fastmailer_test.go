package fastmailer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/youssef-of-web/fast-mailer/framework/exterrors"
	"github.com/youssef-of-web/fast-mailer/framework/log"
	"github.com/youssef-of-web/fast-mailer/internal/testutils"
)

func testConfig(port uint16) Config {
	return Config{
		Host: "127.0.0.1",
		Port: port,
		Auth: AuthConfig{User: "user@example.org", Pass: "hunter2"},
		From: "sender@example.org",
	}
}

func testMailer(t *testing.T, cfg Config) *Mailer {
	t.Helper()

	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	m.log = testutils.Logger(t, "mailer")
	m.log.MinLevel = log.LevelDebug
	return m
}

func wantCode(t *testing.T, err error, code string) *exterrors.SendError {
	t.Helper()

	if err == nil {
		t.Fatal("expected error")
	}
	se := exterrors.AsSendError(err)
	if se == nil {
		t.Fatalf("not a classified error: %v", err)
	}
	if se.Code != code {
		t.Fatalf("wrong code: %s (%v)", se.Code, err)
	}
	return se
}

func TestNewRequiresFrom(t *testing.T) {
	cfg := testConfig(20231)
	cfg.From = ""
	if _, err := New(cfg); err == nil {
		t.Error("construction succeeded without sender address")
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	cfg := testConfig(20231)
	cfg.Host = ""
	if _, err := New(cfg); err == nil {
		t.Error("construction succeeded without relay host")
	}
}

func TestPort465ForcesSecure(t *testing.T) {
	cfg := testConfig(465)
	cfg.Logging.Format = "text"
	m, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if !m.cfg.Secure {
		t.Error("secure mode not forced for port 465")
	}
}

func TestInvalidRecipientRejectedBeforeDial(t *testing.T) {
	// Port 1 is closed. A connection attempt would surface ECONNECTION,
	// so getting EINVALIDEMAIL proves validation runs without a socket.
	m := testMailer(t, testConfig(1))
	defer m.Close()

	result, err := m.SendMail(context.Background(), Request{
		To:      []string{"notanemail"},
		Subject: "x",
		Text:    "y",
	})
	wantCode(t, err, exterrors.CodeInvalidEmail)
	if result.Success {
		t.Error("result marked successful")
	}

	s := m.Metrics()
	if s.EmailsTotal != 0 {
		t.Errorf("emails_total moved: %d", s.EmailsTotal)
	}
	if s.ErrorsByKind["validation_error"] != 1 {
		t.Errorf("validation counter: %v", s.ErrorsByKind)
	}
}

func TestNoRecipients(t *testing.T) {
	m := testMailer(t, testConfig(1))
	defer m.Close()

	_, err := m.SendMail(context.Background(), Request{Subject: "x", Text: "y"})
	wantCode(t, err, exterrors.CodeInvalidEmail)
}

func TestConnectionRefused(t *testing.T) {
	m := testMailer(t, testConfig(1))
	defer m.Close()

	_, err := m.SendMail(context.Background(), Request{
		To:      []string{"a@b.co"},
		Subject: "x",
		Text:    "y",
	})
	wantCode(t, err, exterrors.CodeConnection)

	s := m.Metrics()
	if s.EmailsTotal != 0 {
		t.Errorf("emails_total moved on probe failure: %d", s.EmailsTotal)
	}
	if s.ErrorsByKind["connection_error"] == 0 {
		t.Errorf("connection counter: %v", s.ErrorsByKind)
	}
	if s.LastEmailStatus != "failure" {
		t.Errorf("wrong status: %q", s.LastEmailStatus)
	}
}

func TestSendMailEndToEnd(t *testing.T) {
	be, srv := testutils.SMTPServer(t, "127.0.0.1:20232")
	defer srv.Close()

	m := testMailer(t, testConfig(20232))
	defer m.Close()

	result, err := m.SendMail(context.Background(), Request{
		To:      []string{"a@b.co"},
		Cc:      []string{"c@d.co"},
		Bcc:     []string{"hidden@d.co"},
		Subject: "Greetings",
		Text:    "plain body",
		HTML:    "<p>html body</p>",
		Attachments: []Attachment{
			{Content: []byte("attachment bytes"), Filename: "blob.bin"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Error("result not marked successful")
	}
	if len(result.MessageID) != 32 {
		t.Errorf("wrong message id: %q", result.MessageID)
	}

	be.CheckMsg(t, 0, "sender@example.org", []string{"a@b.co", "c@d.co", "hidden@d.co"})
	msg := be.Messages[0]
	if msg.AuthUser != "user@example.org" || msg.AuthPass != "hunter2" {
		t.Errorf("wrong credentials: %q %q", msg.AuthUser, msg.AuthPass)
	}

	data := string(msg.Data)
	if !strings.Contains(data, "Subject: Greetings") {
		t.Errorf("subject missing from payload")
	}
	if !strings.Contains(data, "plain body") || !strings.Contains(data, "<p>html body</p>") {
		t.Errorf("body parts missing from payload")
	}
	// Bcc recipients appear in the envelope only.
	if strings.Contains(data, "Bcc") || strings.Contains(data, "hidden@d.co") {
		t.Errorf("Bcc leaked into the message header")
	}

	s := m.Metrics()
	if s.EmailsSuccessful != 1 || s.EmailsTotal != 1 {
		t.Errorf("wrong counters: %+v", s)
	}
	if s.LastEmailStatus != "success" {
		t.Errorf("wrong status: %q", s.LastEmailStatus)
	}
	if s.Buckets[5] != 1 {
		t.Errorf("duration not observed: %v", s.Buckets)
	}
}

func TestRateLimitRejection(t *testing.T) {
	be, srv := testutils.SMTPServer(t, "127.0.0.1:20233")
	defer srv.Close()

	cfg := testConfig(20233)
	cfg.RateLimit.BurstLimit = 2
	cfg.RateLimit.CooldownPeriod = time.Minute
	m := testMailer(t, cfg)
	defer m.Close()

	req := Request{To: []string{"a@b.co"}, Subject: "x", Text: "y"}
	for i := 0; i < 2; i++ {
		if _, err := m.SendMail(context.Background(), req); err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
	}

	_, err := m.SendMail(context.Background(), req)
	se := wantCode(t, err, exterrors.CodeRateLimit)
	if se.Kind != exterrors.KindRateLimit {
		t.Errorf("wrong kind: %s", se.Kind)
	}

	s := m.Metrics()
	if s.RateLimitExceededTotal == 0 {
		t.Error("rate_limit_exceeded_total not incremented")
	}
	if s.EmailsTotal != 2 {
		t.Errorf("emails_total: %d", s.EmailsTotal)
	}
	if be.MailFromCounter != 2 {
		t.Errorf("rejected send reached the server: %d transactions", be.MailFromCounter)
	}
}

func TestKeepAliveReuse(t *testing.T) {
	be, srv := testutils.SMTPServer(t, "127.0.0.1:20234")
	defer srv.Close()

	cfg := testConfig(20234)
	cfg.KeepAlive = true
	cfg.SkipVerify = true
	m := testMailer(t, cfg)
	defer m.Close()

	req := Request{To: []string{"a@b.co"}, Subject: "x", Text: "y"}
	for i := 0; i < 2; i++ {
		if _, err := m.SendMail(context.Background(), req); err != nil {
			t.Fatalf("send %d: %v", i+1, err)
		}
	}

	if be.SessionCounter != 1 {
		t.Errorf("expected one session for both sends, got %d", be.SessionCounter)
	}

	// Kill the session behind the mailer's back. The next send must
	// notice via NOOP and redial.
	m.conn.DirectClose()
	if _, err := m.SendMail(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	s := m.Metrics()
	if s.TotalRetryAttempts != 1 || s.SuccessfulRetries != 1 {
		t.Errorf("retry counters: %d/%d", s.TotalRetryAttempts, s.SuccessfulRetries)
	}
	if len(be.Messages) != 3 {
		t.Errorf("expected 3 deliveries, got %d", len(be.Messages))
	}
}

func TestVerifyConnection(t *testing.T) {
	_, srv := testutils.SMTPServer(t, "127.0.0.1:20235")
	defer srv.Close()

	m := testMailer(t, testConfig(20235))
	defer m.Close()
	if !m.VerifyConnection(context.Background()) {
		t.Error("verification failed against live server")
	}

	down := testMailer(t, testConfig(1))
	defer down.Close()
	if down.VerifyConnection(context.Background()) {
		t.Error("verification succeeded against closed port")
	}
	if s := down.Metrics(); s.ConnectionErrors == 0 {
		t.Error("probe failure not counted")
	}
}

func TestAttachmentFailureCounted(t *testing.T) {
	_, srv := testutils.SMTPServer(t, "127.0.0.1:20236")
	defer srv.Close()

	m := testMailer(t, testConfig(20236))
	defer m.Close()

	_, err := m.SendMail(context.Background(), Request{
		To:          []string{"a@b.co"},
		Subject:     "x",
		Attachments: []Attachment{{Path: "/does/not/exist.bin"}},
	})
	wantCode(t, err, exterrors.CodeAttachment)

	s := m.Metrics()
	if s.ErrorsByKind["attachment_error"] != 1 {
		t.Errorf("attachment counter: %v", s.ErrorsByKind)
	}
	if s.EmailsTotal != 0 {
		t.Errorf("emails_total moved: %d", s.EmailsTotal)
	}
}

func TestRecipientsMerged(t *testing.T) {
	req := Request{
		To:  []string{"a@b.co", "c@d.co"},
		Cc:  []string{"a@b.co", "e@f.co"},
		Bcc: []string{"g@h.co"},
	}
	got := req.recipients()
	want := []string{"a@b.co", "c@d.co", "e@f.co", "g@h.co"}
	if len(got) != len(want) {
		t.Fatalf("wrong recipients: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wrong recipients: %v", got)
			break
		}
	}
}

func TestPayloadDotStuffing(t *testing.T) {
	be, srv := testutils.SMTPServer(t, "127.0.0.1:20237")
	defer srv.Close()

	m := testMailer(t, testConfig(20237))
	defer m.Close()

	body := "line one\r\n.\r\nline after lone dot"
	if _, err := m.SendMail(context.Background(), Request{
		To:      []string{"a@b.co"},
		Subject: "x",
		Text:    body,
	}); err != nil {
		t.Fatal(err)
	}

	if !bytes.Contains(be.Messages[0].Data, []byte("line after lone dot")) {
		t.Errorf("payload truncated at lone dot: %q", be.Messages[0].Data)
	}
}

func countOpenFDs(t *testing.T) int {
	t.Helper()

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot enumerate open descriptors: %v", err)
	}
	return len(entries)
}

func TestFailedSendClosesConnection(t *testing.T) {
	be, srv := testutils.SMTPServer(t, "127.0.0.1:20238")
	defer srv.Close()
	be.DataErr = &smtp.SMTPError{Code: 554, Message: "transaction failed"}

	cfg := testConfig(20238)
	cfg.SkipVerify = true
	cfg.RateLimit.Disable = true
	m := testMailer(t, cfg)
	defer m.Close()

	req := Request{To: []string{"a@b.co"}, Subject: "x", Text: "y"}

	// Warm up so lazily created descriptors do not skew the count.
	if _, err := m.SendMail(context.Background(), req); err == nil {
		t.Fatal("expected rejection from server")
	}

	before := countOpenFDs(t)
	for i := 0; i < 10; i++ {
		_, err := m.SendMail(context.Background(), req)
		wantCode(t, err, exterrors.CodeCommand)
	}
	after := countOpenFDs(t)

	if after > before+2 {
		t.Errorf("descriptors accumulated over failed sends: %d -> %d", before, after)
	}
	if m.conn != nil {
		t.Error("failed session still referenced")
	}
	if s := m.Metrics(); s.EmailsFailed != 11 {
		t.Errorf("emails_failed: %d", s.EmailsFailed)
	}
}

func TestFailedKeepAliveSendClosesConnection(t *testing.T) {
	be, srv := testutils.SMTPServer(t, "127.0.0.1:20239")
	defer srv.Close()
	be.DataErr = &smtp.SMTPError{Code: 554, Message: "transaction failed"}

	cfg := testConfig(20239)
	cfg.SkipVerify = true
	cfg.RateLimit.Disable = true
	cfg.KeepAlive = true
	m := testMailer(t, cfg)
	defer m.Close()

	req := Request{To: []string{"a@b.co"}, Subject: "x", Text: "y"}
	if _, err := m.SendMail(context.Background(), req); err == nil {
		t.Fatal("expected rejection from server")
	}

	before := countOpenFDs(t)
	for i := 0; i < 10; i++ {
		_, err := m.SendMail(context.Background(), req)
		wantCode(t, err, exterrors.CodeCommand)
	}
	after := countOpenFDs(t)

	if after > before+2 {
		t.Errorf("descriptors accumulated over failed sends: %d -> %d", before, after)
	}
	if m.conn != nil {
		t.Error("failed session kept for reuse")
	}
}

func TestUnwritableLogDestination(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(20231)
	// A path under a regular file cannot be created.
	cfg.Logging.Destination = filepath.Join(blocker, "mailer.log")
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("construction failed on unwritable destination: %v", err)
	}
	defer m.Close()

	if _, ok := m.log.Out.(log.NopOutput); !ok {
		t.Errorf("logging not disabled: %T", m.log.Out)
	}

	// Logging must be a no-op, not a panic or an error.
	m.log.Msg("dropped")
}
