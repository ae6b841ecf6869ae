package checksum

import (
	"io"
	"strings"
	"testing"
)

func TestSum_MatchesStreamingDigest(t *testing.T) {
	inputs := []string{"", "hello", `{"id":1,"module":"safety"}`}
	for _, in := range inputs {
		streamed, err := CalculateSHA256(strings.NewReader(in))
		if err != nil {
			t.Fatalf("CalculateSHA256(%q): %v", in, err)
		}
		if got := Sum([]byte(in)); got != streamed {
			t.Errorf("Sum(%q) = %s, streaming digest = %s", in, got, streamed)
		}
	}
}

func TestCalculateSHA256_KnownValues(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	}
	for _, tt := range tests {
		got, err := CalculateSHA256(strings.NewReader(tt.input))
		if err != nil {
			t.Fatalf("CalculateSHA256(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("CalculateSHA256(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestMatches(t *testing.T) {
	want := Sum([]byte(`{"id":7,"action":"update"}`))

	ok, err := Matches(strings.NewReader(`{"id":7,"action":"update"}`), want)
	if err != nil || !ok {
		t.Errorf("identical content: ok=%v err=%v, want true", ok, err)
	}

	ok, err = Matches(strings.NewReader(`{"id":7,"action":"delete"}`), want)
	if err != nil || ok {
		t.Errorf("altered content: ok=%v err=%v, want false", ok, err)
	}
}

func TestMatches_ReadErrorPropagated(t *testing.T) {
	if _, err := Matches(errReader{}, "anything"); err == nil {
		t.Error("Matches() = nil error for a failing reader")
	}
}

// errReader is an io.Reader that always fails
type errReader struct{}

func (errReader) Read(_ []byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
