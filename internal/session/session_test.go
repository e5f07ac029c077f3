package session

import "testing"

func TestParseMessageType(t *testing.T) {
	for _, s := range []string{"text", "image", "video"} {
		if got, ok := ParseMessageType(s); !ok || string(got) != s {
			t.Fatalf("ParseMessageType(%q) = %q, %v", s, got, ok)
		}
	}
	for _, s := range []string{"", "Text", "audio"} {
		if _, ok := ParseMessageType(s); ok {
			t.Fatalf("ParseMessageType(%q) accepted", s)
		}
	}
}

func TestNextWrapsAround(t *testing.T) {
	if got := TypeText.Next(); got != TypeImage {
		t.Fatalf("TypeText.Next() = %q", got)
	}
	if got := TypeVideo.Next(); got != TypeText {
		t.Fatalf("TypeVideo.Next() = %q", got)
	}
	if got := MessageType("bogus").Next(); got != TypeText {
		t.Fatalf("bogus.Next() = %q", got)
	}
}
