package utils

import "testing"

func TestNormalizePageURL(t *testing.T) {
	cases := map[string]string{
		"":                                           "",
		"https://Trakteer.id/ctf?utm_source=discord": "https://trakteer.id/ctf",
		"trakteer.id/ctf#support":                    "https://trakteer.id/ctf",
		"http://user:pw@Example.com:8080/p?b=2&a=1":  "http://example.com:8080/p?a=1&b=2",
	}
	for input, want := range cases {
		got, err := NormalizePageURL(input)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("normalize %q: expected %q, got %q", input, want, got)
		}
	}
}

func TestNormalizePageURLRejects(t *testing.T) {
	for _, input := range []string{"ftp://example.com/file", "localhost", "javascript://alert(1)"} {
		if _, err := NormalizePageURL(input); err == nil {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}
