// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultSMTPPort = 587

type EmailConfig struct {
	Host     string
	Username string
	Password string
	From     string
	To       []string
	Port     int
}

// EmailSink sends notices over SMTP to the configured recipients and the
// author contact address
type EmailSink struct {
	config EmailConfig
}

func NewEmailSink(cfg EmailConfig) *EmailSink {
	if cfg.Port == 0 {
		cfg.Port = DefaultSMTPPort
	}
	return &EmailSink{config: cfg}
}

func (e *EmailSink) Name() string {
	return "email"
}

func (e *EmailSink) recipients(notice Notice) []string {
	ret := slices.Clone(e.config.To)
	if notice.ContactEmail != "" && !slices.Contains(ret, notice.ContactEmail) {
		ret = append(ret, notice.ContactEmail)
	}
	return ret
}

func (e *EmailSink) Send(ctx context.Context, notice Notice) error {
	rcpts := e.recipients(notice)
	if len(rcpts) == 0 {
		return nil
	}
	if e.config.From == "" {
		return errors.New("email sender address not configured")
	}
	addr := net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return err
		}
	}
	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer client.Close()
	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.config.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if e.config.Username != "" {
		auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(e.config.From); err != nil {
		return err
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("recipient %s: %w", rcpt, err)
		}
	}
	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(e.message(notice, rcpts)); err != nil {
		wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (e *EmailSink) message(notice Notice, rcpts []string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(rcpts, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", headerValue(notice.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", notice.Time.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: <%s@suimusic>\r\n", uuid.NewString())
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "%s\r\n\r\n", notice.Subject)
	writeLine := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
		}
	}
	writeLine("Event", notice.Type)
	writeLine("Proof", notice.ProofID)
	writeLine("Work", notice.WorkID)
	writeLine("Status", notice.Status)
	writeLine("Reviewer", notice.Reviewer)
	writeLine("Reason", notice.Reason)
	writeLine("Object", notice.NFTObjectID)
	writeLine("Transaction", notice.TxDigest)
	writeLine("Owner", notice.Owner)
	writeLine("Delivery", notice.ID)
	return buf.Bytes()
}

func headerValue(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
