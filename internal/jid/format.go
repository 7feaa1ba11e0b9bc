package jid

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/clinichat/internal/chat"
	"github.com/nyaruka/phonenumbers"
)

const previewMaxLen = 100

// FormatPhone renders international digits in the number's international
// format, e.g. "5511999998888" becomes "+55 11 99999-8888". Numbers the
// metadata does not recognize are returned as "+<digits>".
func FormatPhone(phone string) string {
	digits := digitsOnly(phone)
	if digits == "" {
		return ""
	}
	num, err := phonenumbers.Parse("+"+digits, "")
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return "+" + digits
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

// DisplayName picks the best label for a conversation.
func DisplayName(c *chat.Conversation) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	if IsGroup(c.JID) {
		return c.JID
	}
	phone := c.Phone
	if phone == "" {
		phone = ToPhone(c.JID)
	}
	if f := FormatPhone(phone); f != "" {
		return f
	}
	return c.JID
}

// Preview extracts the one-line summary of a message used as a
// conversation's last-message text.
func Preview(m *chat.Message) string {
	if m == nil {
		return ""
	}
	var s string
	switch m.Type {
	case chat.TypeText:
		s = m.Content.Text
	case chat.TypeImage:
		s = labeled("Photo", m.Content.Caption)
	case chat.TypeVideo:
		s = labeled("Video", m.Content.Caption)
	case chat.TypeAudio:
		s = "Audio"
	case chat.TypeDocument:
		name := m.Content.FileName
		if name == "" {
			name = m.Content.Caption
		}
		s = labeled("Document", name)
	case chat.TypeSticker:
		s = "Sticker"
	case chat.TypeLocation:
		s = "Location"
	case chat.TypeContact:
		s = labeled("Contact", m.Content.ContactName)
	default:
		s = m.Content.Text
	}
	s = strings.Join(strings.Fields(s), " ")
	return truncate(s, previewMaxLen)
}

func labeled(label, detail string) string {
	if detail == "" {
		return label
	}
	return fmt.Sprintf("%s: %s", label, detail)
}

// truncate cuts s to at most maxLen runes.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}
