package twilio

import (
	"strings"
	"testing"
)

func TestConnectStreamTwiML(t *testing.T) {
	got, err := ConnectStreamTwiML("wss://assistant.example/calls/audio-stream")
	if err != nil {
		t.Fatalf("ConnectStreamTwiML() error = %v", err)
	}
	if !strings.HasPrefix(got, "<?xml") {
		t.Errorf("twiml missing xml header: %q", got)
	}
	if !strings.Contains(got, `<Connect><Stream url="wss://assistant.example/calls/audio-stream">`) {
		t.Errorf("twiml = %q, want Connect/Stream with url attr", got)
	}
}

func TestDialTwiML(t *testing.T) {
	got, err := DialTwiML("+15550003333")
	if err != nil {
		t.Fatalf("DialTwiML() error = %v", err)
	}
	if !strings.Contains(got, "<Dial>+15550003333</Dial>") {
		t.Errorf("twiml = %q, want a Dial verb", got)
	}
}

func TestRejectTwiML(t *testing.T) {
	got, err := RejectTwiML("busy")
	if err != nil {
		t.Fatalf("RejectTwiML() error = %v", err)
	}
	if !strings.Contains(got, `<Reject reason="busy">`) && !strings.Contains(got, `<Reject reason="busy"/>`) {
		t.Errorf("twiml = %q, want a Reject verb with reason", got)
	}
}
