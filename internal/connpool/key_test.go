package connpool

import "testing"

func TestKeyRoundTrip(t *testing.T) {
	k := NewKey("socks5://10.0.0.1:1080", "api.anthropic.com")
	s := k.String()
	if len(s) != 32 {
		t.Fatalf("key string length: got %d, want 32", len(s))
	}

	parsed, err := ParseKey(s)
	if err != nil {
		t.Fatal(err)
	}
	if parsed != k {
		t.Fatalf("round trip: got %s, want %s", parsed, k)
	}
}

func TestKeyDistinct(t *testing.T) {
	base := NewKey("direct", "api.anthropic.com")
	if NewKey("direct", "api.openai.com") == base {
		t.Fatal("different hosts collided")
	}
	if NewKey("socks5://p:1080", "api.anthropic.com") == base {
		t.Fatal("different proxies collided")
	}
	// length-prefixing keeps (proxy, host) splits unambiguous
	if NewKey("direct|api", "anthropic.com") == NewKey("direct", "api|anthropic.com") {
		t.Fatal("composite split collision")
	}
	if NewKey("directapi", "anthropic.com") == NewKey("direct", "apianthropic.com") {
		t.Fatal("composite split collision")
	}
}

func TestParseKeyInvalid(t *testing.T) {
	if _, err := ParseKey("zz"); err == nil {
		t.Fatal("non-hex key parsed")
	}
	if _, err := ParseKey("abcd"); err == nil {
		t.Fatal("short key parsed")
	}
}
