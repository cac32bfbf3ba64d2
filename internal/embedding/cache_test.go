package embedding

import (
	"context"
	"errors"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

// countingEmbedder records the texts it was asked to embed.
type countingEmbedder struct {
	*MockEmbedder
	calls [][]string
	err   error
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls = append(c.calls, []string{text})
	if c.err != nil {
		return nil, c.err
	}
	return c.MockEmbedder.Embed(ctx, text)
}

func TestCachedEmbedder_embedsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(8)}
	c := NewCachedEmbedder(inner, 100)
	ctx := context.Background()

	if _, err := c.EmbedBatch(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	got, err := c.EmbedBatch(ctx, []string{"b", "c", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(inner.calls) != 2 {
		t.Fatalf("inner calls = %d, want 2", len(inner.calls))
	}
	if len(inner.calls[1]) != 1 || inner.calls[1][0] != "c" {
		t.Errorf("second call = %v, want [c]", inner.calls[1])
	}

	for i, text := range []string{"b", "c", "a"} {
		want, _ := NewMockEmbedder(8).Embed(ctx, text)
		for j := range want {
			if got[i][j] != want[j] {
				t.Fatalf("result %d (%s) out of order", i, text)
			}
		}
	}
}

func TestCachedEmbedder_emptyBatch(t *testing.T) {
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(4)}
	got, err := NewCachedEmbedder(inner, 10).EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 || len(inner.calls) != 0 {
		t.Errorf("got %d vectors, %d calls", len(got), len(inner.calls))
	}
}

func TestCachedEmbedder_errorNotCached(t *testing.T) {
	boom := errors.New("boom")
	inner := &countingEmbedder{MockEmbedder: NewMockEmbedder(4), err: boom}
	c := NewCachedEmbedder(inner, 10)
	if _, err := c.EmbedBatch(context.Background(), []string{"x"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	inner.err = nil
	if _, err := c.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if len(inner.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(inner.calls))
	}
}
