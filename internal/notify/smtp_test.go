package notify

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// plainRelay is an SMTP server that never offers STARTTLS but accepts
// AUTH and DATA, recording whether a client got that far.
type plainRelay struct {
	mu       sync.Mutex
	commands []string
	auth     bool
	data     bool
}

func startPlainRelay(t *testing.T) (*plainRelay, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	r := &plainRelay{}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(5 * time.Second))
		r.serve(conn)
	}()
	return r, ln.Addr().(*net.TCPAddr).Port
}

func (r *plainRelay) serve(conn net.Conn) {
	rd := bufio.NewReader(conn)
	reply := func(s string) { conn.Write([]byte(s + "\r\n")) }

	reply("220 relay.test ESMTP")
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.Fields(line + " x")[0])
		r.mu.Lock()
		r.commands = append(r.commands, verb)
		switch verb {
		case "AUTH":
			r.auth = true
		case "DATA":
			r.data = true
		}
		r.mu.Unlock()

		switch verb {
		case "EHLO", "HELO":
			reply("250-relay.test")
			reply("250-AUTH PLAIN LOGIN")
			reply("250 8BITMIME")
		case "AUTH":
			reply("235 2.7.0 accepted")
		case "MAIL", "RCPT", "RSET", "NOOP":
			reply("250 ok")
		case "DATA":
			reply("354 go ahead")
			for {
				l, err := rd.ReadString('\n')
				if err != nil || l == ".\r\n" {
					break
				}
			}
			reply("250 queued")
		case "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func TestSMTPSenderRequiresSTARTTLS(t *testing.T) {
	relay, port := startPlainRelay(t)
	s := NewSMTPSender(SMTPConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Username: "reporter",
		Password: "secret",
		From:     "reporter@example.com",
		To:       "owner@example.com",
	})

	err := s.Send("Report", "sample text")
	if err == nil {
		t.Fatal("Send succeeded on a relay without STARTTLS")
	}
	if !strings.Contains(err.Error(), "STARTTLS") {
		t.Fatalf("err = %v, want a STARTTLS failure", err)
	}

	relay.mu.Lock()
	defer relay.mu.Unlock()
	if relay.auth || relay.data {
		t.Fatalf("credentials or message sent in clear text: commands %v", relay.commands)
	}
	if len(relay.commands) == 0 {
		t.Fatal("client never reached the relay")
	}
}

func TestNewSMTPSenderDefaultPort(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"})
	if s.cfg.Port != 587 {
		t.Fatalf("port = %d, want 587", s.cfg.Port)
	}
}
