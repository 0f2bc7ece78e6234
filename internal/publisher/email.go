package publisher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/bryan-buckman/pulse/internal/model"
)

// ErrEmailConfig is returned when the sender or SMTP credentials are missing.
var ErrEmailConfig = errors.New("email: sender address, SMTP username and password are required")

// DefaultSMTPTimeout bounds one complete SMTP exchange.
const DefaultSMTPTimeout = 30 * time.Second

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

type sendFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailPublisher sends the digest as a multipart text and HTML email.
type EmailPublisher struct {
	cfg  EmailConfig
	send sendFunc
	now  func() time.Time
}

func NewEmailPublisher(cfg EmailConfig) *EmailPublisher {
	if cfg.SMTPHost == "" {
		cfg.SMTPHost = "smtp.gmail.com"
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	p := &EmailPublisher{cfg: cfg, now: time.Now}
	p.send = p.sendMail
	return p
}

func (p *EmailPublisher) Name() string { return "email" }

// Publish delivers the digest. Recipients default to the sender.
func (p *EmailPublisher) Publish(ctx context.Context, subject string, digest *model.Digest) error {
	if p.cfg.From == "" || p.cfg.Username == "" || p.cfg.Password == "" {
		return ErrEmailConfig
	}
	to := p.cfg.To
	if len(to) == 0 {
		to = []string{p.cfg.From}
	}

	msg, err := p.buildMessage(subject, to, digest)
	if err != nil {
		return fmt.Errorf("email: build message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", p.cfg.SMTPHost, p.cfg.SMTPPort)
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.SMTPHost)
	if err := p.send(ctx, addr, auth, p.cfg.From, to, msg); err != nil {
		return fmt.Errorf("email: failed to send: %w", err)
	}
	return nil
}

// sendMail runs the SMTP exchange of smtp.SendMail on a connection whose
// dial and every later read and write are bounded by cfg.Timeout and ctx.
func (p *EmailPublisher) sendMail(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, p.cfg.SMTPHost)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: p.cfg.SMTPHost}); err != nil {
			return err
		}
	}
	if auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (p *EmailPublisher) buildMessage(subject string, to []string, digest *model.Digest) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := writePart(mw, "text/plain", strings.TrimSpace(digest.Text)); err != nil {
		return nil, err
	}
	if err := writePart(mw, "text/html", htmlDocument(digest.HTML)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", p.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", p.now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType+"; charset=UTF-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}

func htmlDocument(fragment string) string {
	return `<!DOCTYPE html><html lang="en"><head><meta charset="UTF-8"></head><body>` + fragment + `</body></html>`
}
