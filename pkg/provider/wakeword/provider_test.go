package wakeword

import "testing"

func TestKeywordName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
		file     bool
	}{
		{in: "computer", want: "computer"},
		{in: "hey siri", want: "hey siri"},
		{in: "/opt/models/hey-buddy_en_linux_v3_0_0.ppn", want: "hey-buddy", file: true},
		{in: "Lights.PPN", want: "Lights", file: true},
	}
	for _, tc := range tests {
		if got := IsKeywordFile(tc.in); got != tc.file {
			t.Errorf("IsKeywordFile(%q) = %v; want %v", tc.in, got, tc.file)
		}
		if got := KeywordName(tc.in); got != tc.want {
			t.Errorf("KeywordName(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsBuiltIn(t *testing.T) {
	t.Parallel()
	for _, k := range []string{"computer", "jarvis", "ok google"} {
		if !IsBuiltIn(k) {
			t.Errorf("IsBuiltIn(%q) = false", k)
		}
	}
	for _, k := range []string{"Computer", "toaster", ""} {
		if IsBuiltIn(k) {
			t.Errorf("IsBuiltIn(%q) = true", k)
		}
	}
}
