package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths = %d/%d/%d", len(ids), len(attn), len(types))
	}
	if ids[0] != tokenCLS {
		t.Errorf("expected CLS %d, got %d", tokenCLS, ids[0])
	}
	if ids[3] != tokenSEP {
		t.Errorf("expected SEP at 3, got %d", ids[3])
	}
	for i, want := range []int64{1, 1, 1, 1, 0} {
		if attn[i] != want {
			t.Errorf("attention[%d] = %d, want %d", i, attn[i], want)
		}
	}
}

func TestSimpleTokenizer_truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 {
		t.Fatalf("len(ids)=%d", len(ids))
	}
	for i := range attn {
		if attn[i] != 1 {
			t.Errorf("attention[%d] should be 1", i)
		}
	}
	if ids[3] != tokenSEP {
		t.Errorf("last token = %d, want SEP", ids[3])
	}
}

func TestSimpleTokenizer_defaultMaxTokens(t *testing.T) {
	ids, _, _ := (&SimpleTokenizer{}).Tokenize("x", 0)
	if len(ids) != 256 {
		t.Errorf("len(ids)=%d, want 256", len(ids))
	}
}

func TestTokenHash(t *testing.T) {
	if tokenHash("abc") == 0 {
		t.Error("hash should be non-zero")
	}
	if tokenHash("abc") != tokenHash("abc") {
		t.Error("hash should be deterministic")
	}
	if tokenHash("abc") < 0 || tokenHash("a very long word that overflows the accumulator") < 0 {
		t.Error("hash should be non-negative")
	}
}
