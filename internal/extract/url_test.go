package extract

import "testing"

func TestValidateURL(t *testing.T) {
	tests := []struct {
		raw  string
		ok   bool
		want string
	}{
		{raw: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", ok: true},
		{raw: "https://youtu.be/dQw4w9WgXcQ", ok: true},
		{raw: "https://youtu.be/abc123", ok: true},
		{raw: "https://m.youtube.com/watch?v=abc", ok: true},
		{raw: "https://www.youtube.com/shorts/abc123", ok: true},
		{raw: "dQw4w9WgXcQ", ok: true},
		{raw: "youtube.com/watch?v=dQw4w9WgXcQ", ok: true},
		{raw: "", want: "URL is required"},
		{raw: "https://example.com/watch?v=abc", want: msgInvalidURL},
		{raw: "https://www.youtube.com/", want: msgInvalidURL},
		{raw: "ftp://youtu.be/abc", want: msgInvalidURL},
		{raw: "short", want: msgInvalidURL},
		{raw: "https://evil.example/anything/at/all", want: msgInvalidURL},
		{raw: "http://example.com/embed/dQw4w9WgXcQ", want: msgInvalidURL},
		{raw: "https://www.youtube.com/watch", want: msgInvalidURL},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.raw)
		if tt.ok {
			if err != nil {
				t.Errorf("ValidateURL(%q) returned %v", tt.raw, err)
			}
			continue
		}
		if err == nil {
			t.Errorf("ValidateURL(%q) expected error", tt.raw)
			continue
		}
		if CategoryOf(err) != CategoryInvalidInput || UserMessage(err) != tt.want {
			t.Errorf("ValidateURL(%q) = %q (%s), want %q", tt.raw, UserMessage(err), CategoryOf(err), tt.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for raw, want := range map[string]Kind{"": KindVideo, "video": KindVideo, "AUDIO": KindAudio, " audio ": KindAudio} {
		got, err := ParseKind(raw)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseKind("gif"); CategoryOf(err) != CategoryInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
