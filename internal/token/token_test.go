package token

import (
	"sync"
	"testing"
)

func TestGenerate_LengthAndAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		tok, err := Generate()
		if err != nil {
			t.Fatalf("Generate returned error: %v", err)
		}
		if len(tok) != Length {
			t.Fatalf("len(token) = %d, want %d", len(tok), Length)
		}
		if !IsWellFormed(tok) {
			t.Fatalf("token %q is not alphanumeric", tok)
		}
	}
}

func TestGenerate_ConcurrentCallsProduceDistinctTokens(t *testing.T) {
	const n = 500
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := MustGenerate()
			mu.Lock()
			seen[tok] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("distinct tokens = %d, want %d", len(seen), n)
	}
}

func TestGenerateSessionID_Is64HexChars(t *testing.T) {
	id, err := GenerateSessionID()
	if err != nil {
		t.Fatalf("GenerateSessionID returned error: %v", err)
	}
	if len(id) != 64 {
		t.Errorf("len(id) = %d, want 64", len(id))
	}
	other, _ := GenerateSessionID()
	if id == other {
		t.Error("two session IDs should differ")
	}
}

func TestIsWellFormed(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"abcdefghijklmnopqrstuvwxy", true},
		{"ABCDEFGHIJKLMNOPQRSTUVWX9", true},
		{"abc", false},
		{"abcdefghijklmnopqrstuvwx-", false},
		{"abcdefghijklmnopqrstuvwxyz", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsWellFormed(tt.in); got != tt.want {
			t.Errorf("IsWellFormed(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
