package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPepperedDigestIsDeterministicPerPepper(t *testing.T) {
	a := PepperedDigest("Mozilla/5.0", "pepper-1")
	b := PepperedDigest("Mozilla/5.0", "pepper-1")
	if a != b {
		t.Fatal("same value and pepper must produce the same digest")
	}
	if len(a) != 64 {
		t.Fatalf("expected a hex sha256 digest, got %q", a)
	}

	if PepperedDigest("Mozilla/5.0", "pepper-2") == a {
		t.Fatal("different peppers must not collide")
	}
	if PepperedDigest("curl/8.0", "pepper-1") == a {
		t.Fatal("different values must not collide")
	}
}

func TestGetCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetCookie(r, "access_token"); got != "" {
		t.Fatalf("missing cookie should read empty, got %q", got)
	}

	r.AddCookie(&http.Cookie{Name: "access_token", Value: "tok"})
	if got := GetCookie(r, "access_token"); got != "tok" {
		t.Fatalf("expected tok, got %q", got)
	}
}

func TestSubjectUserID(t *testing.T) {
	if id, err := SubjectUserID("42"); err != nil || id != 42 {
		t.Fatalf("expected 42, got %d err=%v", id, err)
	}
	for _, subject := range []string{"", "abc", "-1", "4.2"} {
		if _, err := SubjectUserID(subject); err == nil {
			t.Fatalf("expected %q to fail", subject)
		}
	}
}
