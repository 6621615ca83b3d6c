package protocol

import "testing"

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in      string
		want    Protocol
		wantErr bool
	}{
		{"push", Push, false},
		{"PULL", Pull, false},
		{"push_pull", PushPull, false},
		{" Push-Pull ", PushPull, false},
		{"gossip", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProtocol(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseProtocol(%q): expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProtocol(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseProtocol(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestProtocolValid(t *testing.T) {
	for _, p := range []Protocol{Push, Pull, PushPull} {
		if !p.Valid() {
			t.Errorf("%v should be valid", p)
		}
	}
	if Protocol(0).Valid() || Protocol(42).Valid() {
		t.Error("out-of-range protocols should not be valid")
	}
	if got := Protocol(42).String(); got != "protocol(42)" {
		t.Errorf("String() = %q", got)
	}
}

func TestKindPredicates(t *testing.T) {
	tests := []struct {
		kind    Kind
		payload bool
		reply   bool
	}{
		{KindPush, true, false},
		{KindPull, false, true},
		{KindPushPull, true, true},
		{KindReply, true, false},
		{Kind(9), false, false},
	}
	for _, tt := range tests {
		if got := tt.kind.CarriesPayload(); got != tt.payload {
			t.Errorf("%v.CarriesPayload() = %v, want %v", tt.kind, got, tt.payload)
		}
		if got := tt.kind.WantsReply(); got != tt.reply {
			t.Errorf("%v.WantsReply() = %v, want %v", tt.kind, got, tt.reply)
		}
	}
}
