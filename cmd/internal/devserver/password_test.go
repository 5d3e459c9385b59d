package devserver

import (
	"errors"
	"strings"
	"testing"
)

func TestPassword_HashAndVerify(t *testing.T) {
	t.Parallel()

	enc, err := hashPassword(devArgon2, "correct horse")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$") {
		t.Fatalf("unexpected encoding %q", enc)
	}

	ok, err := verifyPassword(enc, "correct horse")
	if err != nil || !ok {
		t.Fatalf("verifyPassword(match)=%v,%v want=true,nil", ok, err)
	}
	ok, err = verifyPassword(enc, "wrong")
	if err != nil || ok {
		t.Fatalf("verifyPassword(mismatch)=%v,%v want=false,nil", ok, err)
	}
}

func TestPassword_RejectsMalformedHashes(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"plain",
		"$argon2i$v=19$m=1,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=19456,t=2,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=999999999,t=2,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=19456,t=2,p=1$!!$a2V5a2V5a2V5a2V5a2V5",
	}
	for _, c := range cases {
		if _, err := verifyPassword(c, "x"); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("verifyPassword(%q) err=%v want=%v", c, err, ErrInvalidHash)
		}
	}
}
