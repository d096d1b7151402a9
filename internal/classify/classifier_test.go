package classify

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassify_KeywordMatch(t *testing.T) {
	t.Parallel()

	c, err := New(DefaultRules())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"whatsapp keyword", "Your WhatsApp code is 123-456", "wa"},
		{"whatsapp url", "Tap https://wa.me/123 to verify", "wa"},
		{"telegram keyword", "Telegram code: 54321", "tg"},
		{"instagram keyword", "Use 123456 as your Instagram code", "ig"},
		{"google keyword", "G-123456 is your Google verification code", "go"},
		{"uber keyword", "Your Uber code is 9876", "ub"},
		{"case insensitive", "your WHATSAPP code", "wa"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := c.Classify(tc.text)
			if !ok {
				t.Fatalf("Classify(%q) = no match, want %q", tc.text, tc.want)
			}
			if got != tc.want {
				t.Fatalf("Classify(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestClassify_NoMatch(t *testing.T) {
	t.Parallel()

	c, err := New(DefaultRules())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	for _, text := range []string{
		"Your package has shipped",
		"",
		"Reminder: dentist appointment tomorrow at 9am",
	} {
		if got, ok := c.Classify(text); ok {
			t.Fatalf("Classify(%q) = %q, want no match", text, got)
		}
	}
}

func TestClassify_FirstRuleWins(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Code: "first", Keywords: []string{"shared"}},
		{Code: "second", Keywords: []string{"shared"}},
	}
	c, err := New(rules)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Both rules match; evaluation order must decide, deterministically.
	for i := 0; i < 50; i++ {
		got, ok := c.Classify("a shared keyword")
		if !ok || got != "first" {
			t.Fatalf("Classify() = %q ok=%v, want %q", got, ok, "first")
		}
	}
}

func TestClassify_KeywordsBeforePatterns(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Code: "bykeyword", Keywords: []string{"verify"}},
		{Code: "bypattern", Patterns: []string{`verify\.example\.com`}},
	}
	c, err := New(rules)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	got, ok := c.Classify("visit verify.example.com now")
	if !ok || got != "bykeyword" {
		t.Fatalf("Classify() = %q ok=%v, want %q", got, ok, "bykeyword")
	}
}

func TestNew_RejectsBadRules(t *testing.T) {
	t.Parallel()

	if _, err := New([]Rule{{Code: "", Keywords: []string{"x"}}}); err == nil {
		t.Fatal("New() with empty code: expected error, got nil")
	}
	if _, err := New([]Rule{{Code: "x", Patterns: []string{"("}}}); err == nil {
		t.Fatal("New() with bad pattern: expected error, got nil")
	}
}

func TestLoad_DefaultsWhenPathEmpty(t *testing.T) {
	t.Parallel()

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if got, want := len(c.Codes()), len(DefaultRules()); got != want {
		t.Fatalf("Load(\"\") loaded %d rules, want %d", got, want)
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.json")
	raw := `[{"code":"xx","keywords":["magicword"],"patterns":["xx\\.example"]}]`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write rules file: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got, ok := c.Classify("the magicword appears"); !ok || got != "xx" {
		t.Fatalf("Classify() = %q ok=%v, want %q", got, ok, "xx")
	}
	if got, ok := c.Classify("see xx.example/path"); !ok || got != "xx" {
		t.Fatalf("Classify() = %q ok=%v, want %q", got, ok, "xx")
	}
}
