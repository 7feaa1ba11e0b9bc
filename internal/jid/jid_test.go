package jid

import (
	"strings"
	"testing"

	"github.com/matheus3301/clinichat/internal/chat"
)

func TestFromPhone(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"digits", "5511999998888", "5511999998888@s.whatsapp.net", false},
		{"formatted", "+55 (11) 99999-8888", "5511999998888@s.whatsapp.net", false},
		{"already jid", "5511999998888@s.whatsapp.net", "5511999998888@s.whatsapp.net", false},
		{"device jid", "5511999998888:12@s.whatsapp.net", "5511999998888@s.whatsapp.net", false},
		{"group jid", "120363025246125486@g.us", "120363025246125486@g.us", false},
		{"empty", "", "", true},
		{"letters", "abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromPhone(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromPhone(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FromPhone(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToPhone(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"5511999998888@s.whatsapp.net", "5511999998888"},
		{"5511999998888:3@s.whatsapp.net", "5511999998888"},
		{"5511999998888", "5511999998888"},
		{"120363025246125486@g.us", "120363025246125486"},
	}
	for _, tt := range tests {
		if got := ToPhone(tt.in); got != tt.want {
			t.Errorf("ToPhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsGroup(t *testing.T) {
	if !IsGroup("120363025246125486@g.us") {
		t.Error("group JID not detected")
	}
	if IsGroup("5511999998888@s.whatsapp.net") {
		t.Error("user JID reported as group")
	}
	if IsGroup("g.us") {
		t.Error("bare server reported as group")
	}
}

func TestFormatPhone(t *testing.T) {
	if got := FormatPhone("14155552671"); got != "+1 415-555-2671" {
		t.Errorf("FormatPhone(US) = %q", got)
	}
	if got := FormatPhone(""); got != "" {
		t.Errorf("FormatPhone(empty) = %q", got)
	}
	if got := FormatPhone("12"); got != "+12" {
		t.Errorf("FormatPhone(short) = %q, want +12", got)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name string
		conv chat.Conversation
		want string
	}{
		{"explicit name", chat.Conversation{JID: "14155552671@s.whatsapp.net", DisplayName: "Maria"}, "Maria"},
		{"phone fallback", chat.Conversation{JID: "14155552671@s.whatsapp.net"}, "+1 415-555-2671"},
		{"group fallback", chat.Conversation{JID: "1203@g.us"}, "1203@g.us"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(&tt.conv); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		msg  *chat.Message
		want string
	}{
		{"nil", nil, ""},
		{"text", &chat.Message{Type: chat.TypeText, Content: chat.Content{Text: "hello\nthere"}}, "hello there"},
		{"image with caption", &chat.Message{Type: chat.TypeImage, Content: chat.Content{Caption: "x-ray"}}, "Photo: x-ray"},
		{"image bare", &chat.Message{Type: chat.TypeImage}, "Photo"},
		{"document", &chat.Message{Type: chat.TypeDocument, Content: chat.Content{FileName: "report.pdf"}}, "Document: report.pdf"},
		{"audio", &chat.Message{Type: chat.TypeAudio}, "Audio"},
		{"contact", &chat.Message{Type: chat.TypeContact, Content: chat.Content{ContactName: "Dr. Silva"}}, "Contact: Dr. Silva"},
		{"location", &chat.Message{Type: chat.TypeLocation}, "Location"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.msg); got != tt.want {
				t.Errorf("Preview() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPreviewTruncatesRunes(t *testing.T) {
	long := strings.Repeat("é", 150)
	got := Preview(&chat.Message{Type: chat.TypeText, Content: chat.Content{Text: long}})
	if n := len([]rune(got)); n != previewMaxLen {
		t.Errorf("preview length = %d runes, want %d", n, previewMaxLen)
	}
}
