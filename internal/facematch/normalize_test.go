package facematch

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Honza", "Honza"},
		{"Jiří", "Jiri"},
		{"café", "cafe"},
		{"naïve", "naive"},
		{"hello", "hello"},
		{"Žluťoučký kůň", "Zlutoucky kun"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := RemoveDiacritics(tt.input)
			if result != tt.expected {
				t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizePersonName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Jan Novák", "jan novak"},
		{"jan-novak", "jan novak"},
		{"JOHN DOE", "john doe"},
		{"jan-novák", "jan novak"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizePersonName(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizePersonName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNameContains(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"Jiří Novák", "novak", true},
		{"Jiří Novák", "JIRI", true},
		{"Jiří Novák", "", true},
		{"Jiří Novák", "   ", true},
		{"Anna Svobodová", "novak", false},
	}

	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.query, func(t *testing.T) {
			if got := NameContains(tt.name, tt.query); got != tt.want {
				t.Errorf("NameContains(%q, %q) = %v, want %v", tt.name, tt.query, got, tt.want)
			}
		})
	}
}
