// Package notify mails a generated sample at the end of every training
// epoch.
package notify

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"

	"textgen/internal/train"
)

// Sender delivers one plain-text message.
type Sender interface {
	Send(subject, body string) error
}

// SMTPConfig describes the relay. The session must be upgraded with
// STARTTLS before authenticating.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// SMTPSender sends through an authenticated SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(subject, body string) error {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return errors.Wrap(err, "from address")
	}
	if err := m.To(s.cfg.To); err != nil {
		return errors.Wrap(err, "to address")
	}
	m.SetCharset(mail.CharsetUTF8)
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	c, err := mail.NewClient(s.cfg.Host,
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
	)
	if err != nil {
		return errors.Wrap(err, "smtp client")
	}
	return errors.Wrapf(c.DialAndSend(m), "send mail via %s:%d", s.cfg.Host, s.cfg.Port)
}

// Generator is the sample source.
type Generator interface {
	Generate(seed string, n int, onlyGenerated bool) (string, error)
}

// Mailer is a training observer that generates a sample from a fixed seed
// and mails it. Any failure is returned and stops training.
type Mailer struct {
	gen     Generator
	sender  Sender
	seed    string
	length  int
	subject string
	log     *logrus.Entry
}

func NewMailer(gen Generator, sender Sender, seed string, length int, subject string, log *logrus.Entry) *Mailer {
	if length <= 0 {
		length = 100
	}
	if subject == "" {
		subject = "Report"
	}
	return &Mailer{gen: gen, sender: sender, seed: seed, length: length, subject: subject, log: log}
}

func (m *Mailer) EpochEnd(s train.EpochStats) error {
	sample, err := m.gen.Generate(m.seed, m.length, false)
	if err != nil {
		return errors.Wrap(err, "generate report sample")
	}
	if err := m.sender.Send(m.subject, sample); err != nil {
		return err
	}
	if m.log != nil {
		m.log.WithFields(logrus.Fields{"epoch": s.Epoch, "runes": m.length}).Info("report mailed")
	}
	return nil
}
