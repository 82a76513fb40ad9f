package model

import (
	"testing"
	"time"
)

// TestParseTicketKind 前缀解析，PGT- 必须先于 PT- 判断
func TestParseTicketKind(t *testing.T) {
	tests := []struct {
		token    string
		wantKind TicketKind
		wantOK   bool
	}{
		{"ST-abc", KindServiceTicket, true},
		{"PGT-abc", KindProxyGrantingTicket, true},
		{"PT-abc", KindProxyTicket, true},
		{"TGT-abc", "", false},
		{"abc", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		kind, ok := ParseTicketKind(tt.token)
		if ok != tt.wantOK {
			t.Errorf("ParseTicketKind(%q) ok 期望 %v, 实际 %v", tt.token, tt.wantOK, ok)
			continue
		}
		if ok && kind != tt.wantKind {
			t.Errorf("ParseTicketKind(%q) 期望 %v, 实际 %v", tt.token, tt.wantKind, kind)
		}
	}
}

func TestTicketIsExpired(t *testing.T) {
	ticket := &Ticket{ExpiresAt: time.Now().Add(time.Minute)}
	if ticket.IsExpired() {
		t.Error("未到期票据不应判为过期")
	}
	ticket.ExpiresAt = time.Now().Add(-time.Minute)
	if !ticket.IsExpired() {
		t.Error("已到期票据应判为过期")
	}
}
