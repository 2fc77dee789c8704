// File: internal/mailotp/message.go

// Package mailotp retrieves verification codes and activation links from the
// portal's mails over IMAP. The reader scans unseen mail first and then holds
// an IDLE session so a fresh OTP is picked up well inside its validity window.
package mailotp

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// Message is the reduced view of a mail the extraction layer works on.
type Message struct {
	Subject string
	From    string
	Text    string
	HTML    string
}

// parseMessage reduces a raw RFC 822 message to subject, sender, and the
// first text/plain and text/html parts. Parts that fail to decode are
// skipped; a mail with no readable body still yields its headers.
func parseMessage(raw []byte) (Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Message{}, err
	}

	var msg Message
	msg.Subject, _ = mr.Header.Subject()
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		msg.From = addrs[0].Address
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := header.ContentType()
		if err != nil {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch contentType {
		case "text/plain":
			if msg.Text == "" {
				msg.Text = string(body)
			}
		case "text/html":
			if msg.HTML == "" {
				msg.HTML = string(body)
			}
		}
	}
	return msg, nil
}

// relevant reports whether a mail belongs to the verification flow: sender
// substrings first, subject keywords second, both case-insensitive.
func relevant(msg Message, senderPatterns, subjectKeywords []string) bool {
	from := strings.ToLower(msg.From)
	for _, p := range senderPatterns {
		if p != "" && strings.Contains(from, strings.ToLower(p)) {
			return true
		}
	}

	subject := strings.ToLower(msg.Subject)
	for _, k := range subjectKeywords {
		if k != "" && strings.Contains(subject, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
