package util

import "testing"

func TestKeyConventions(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"cache default prefix", CacheKey("", "listing:42"), "cache:listing:42"},
		{"cache custom prefix", CacheKey("search", "q=bike"), "search:q=bike"},
		{"tag", TagKey("listings"), "cache:tag:listings"},
		{"block", BlockKey("rl:auth", "10.0.0.1"), "rl:auth:block:10.0.0.1"},
		{"count", CountKey("rl:auth", "10.0.0.1"), "rl:auth:count:10.0.0.1"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, tc.got, tc.want)
		}
	}
}

func TestCoalesce(t *testing.T) {
	if got := Coalesce(0, 7); got != 7 {
		t.Fatalf("zero should fall back: got %d", got)
	}
	if got := Coalesce(3, 7); got != 3 {
		t.Fatalf("non-zero should win: got %d", got)
	}
	if got := Coalesce("", "x"); got != "x" {
		t.Fatalf("empty string should fall back: got %q", got)
	}
}
