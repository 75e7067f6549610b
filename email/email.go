// Package email is the fire-and-forget SMTP sender named as an external
// collaborator in spec §1. It is deliberately small: the lobby engine
// only ever needs to hand it an already-composed message and move on;
// delivery failures are logged by the caller, never surfaced to the
// session that triggered the send.
package email

import (
	"fmt"
	"net/smtp"
	"time"

	dkim "github.com/toorop/go-dkim"
)

// Config describes the outbound mail relay and DKIM signing key.
type Config struct {
	SMTPAddr    string
	From        string
	DKIMDomain  string
	DKIMSelector string
	DKIMPrivKeyPEM []byte
}

// Sender sends DKIM-signed verification/reset email.
type Sender struct {
	cfg Config
}

// NewSender constructs a Sender from config.
func NewSender(cfg Config) *Sender {
	return &Sender{cfg: cfg}
}

// SendVerification sends a registration/reset confirmation message to
// the given address with the given subject and body, DKIM-signed.
func (s *Sender) SendVerification(to, subject, body string) error {
	msg := s.compose(to, subject, body)
	signed, err := s.sign(msg)
	if err != nil {
		// Signing failures shouldn't block delivery outright; an
		// unsigned verification mail is still useful to the user,
		// just more likely to be spam-filtered.
		signed = msg
	}
	return s.deliver(to, signed)
}

func (s *Sender) compose(to, subject, body string) []byte {
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\n\r\n%s",
		s.cfg.From, to, subject, time.Now().UTC().Format(time.RFC1123Z), body))
}

func (s *Sender) sign(msg []byte) ([]byte, error) {
	if len(s.cfg.DKIMPrivKeyPEM) == 0 {
		return msg, nil
	}
	options := dkim.NewSigOptions()
	options.PrivateKey = s.cfg.DKIMPrivKeyPEM
	options.Domain = s.cfg.DKIMDomain
	options.Selector = s.cfg.DKIMSelector
	options.SignatureExpireIn = 0
	options.Headers = []string{"from", "to", "subject", "date"}
	options.AddSignatureTimestamp = true
	options.Canonicalization = "relaxed/relaxed"

	buf := append([]byte(nil), msg...)
	if err := dkim.Sign(&buf, options); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Sender) deliver(to string, msg []byte) error {
	return smtp.SendMail(s.cfg.SMTPAddr, nil, s.cfg.From, []string{to}, msg)
}
