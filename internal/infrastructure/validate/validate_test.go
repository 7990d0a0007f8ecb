package validate

import (
	"strings"
	"testing"
)

func TestField(t *testing.T) {
	content := Field("content", Required(), MaxLength(5))

	tests := []struct {
		value string
		want  string
	}{
		{"hi", ""},
		{"héllo", ""},
		{"   ", "content: is required"},
		{"toolong", "content: must be no more than 5 characters"},
	}
	for _, tt := range tests {
		err := content(tt.value)
		got := ""
		if err != nil {
			got = err.Error()
		}
		if got != tt.want {
			t.Errorf("content(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestCheckStopsAtFirstError(t *testing.T) {
	err := Check(
		That("GROUP", Field("kind", OneOf("ALL", "GROUP", "PRIVATE"))),
		That("bad id!", Field("roomId", Matches(`^[a-z ]+$`, "bad characters"))),
		That("", Field("title", Required())),
	)
	if err == nil || err.Error() != "roomId: bad characters" {
		t.Fatalf("Check = %v", err)
	}
	if err := Check(That("x", When(false, Required()))); err != nil {
		t.Errorf("disabled rule = %v", err)
	}
}

func TestMatchesLetsEmptyThrough(t *testing.T) {
	if err := Matches(`^\d+$`, "")(""); err != nil {
		t.Errorf("empty = %v", err)
	}
	if err := Matches(`^\d+$`, "")("abc"); err == nil || err.Error() != "invalid format" {
		t.Errorf("abc = %v", err)
	}
}

func TestEach(t *testing.T) {
	err := Each("targets", []string{"bob", ""}, Required())
	if err == nil || !strings.HasPrefix(err.Error(), "targets[1]") {
		t.Fatalf("Each = %v", err)
	}
}
