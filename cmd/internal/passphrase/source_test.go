package passphrase

import (
	"io"
	"testing"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := values[name]
		return v, ok
	}
}

func TestSourceFromEnvironment(t *testing.T) {
	calls := 0
	lookup := func(name string) (string, bool) {
		calls++
		return "  abandon   ability\n able ", true
	}
	src := NewSource("CONFIO_IMPORT_PHRASE", "recovery phrase", lookup, io.Discard)
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != "abandon ability able" {
			t.Fatalf("phrase = %q", got)
		}
	}
	if calls != 1 {
		t.Fatalf("lookup called %d times", calls)
	}
}

func TestSourceRejectsEmpty(t *testing.T) {
	src := NewSource("CONFIO_IMPORT_PHRASE", "recovery phrase", env(map[string]string{"CONFIO_IMPORT_PHRASE": " \t"}), io.Discard)
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected error for blank phrase")
	}
}
