package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a recovery phrase from an environment variable or by
// prompting the operator without echo. The value is cached after the first
// successful read.
type Source struct {
	envVar string
	label  string
	lookup func(string) (string, bool)
	prompt io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar through lookup before prompting on the terminal
// with label. A nil lookup reads the process environment.
func NewSource(envVar, label string, lookup func(string) (string, bool), prompt io.Writer) *Source {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if prompt == nil {
		prompt = os.Stderr
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label, lookup: lookup, prompt: prompt}
}

// Get returns the cached phrase or resolves it on first use. Whitespace is
// normalised to single spaces; an empty phrase is rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				s.value, s.err = normalise(value, s.envVar+" is set but empty")
				return
			}
		}

		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s required and no terminal available", s.label)
			}
			return
		}

		fmt.Fprintf(s.prompt, "Enter %s: ", s.label)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(s.prompt)
		if err != nil {
			s.err = fmt.Errorf("read %s: %w", s.label, err)
			return
		}
		s.value, s.err = normalise(string(raw), s.label+" cannot be empty")
		for i := range raw {
			raw[i] = 0
		}
	})
	return s.value, s.err
}

func normalise(raw, emptyMsg string) (string, error) {
	phrase := strings.Join(strings.Fields(raw), " ")
	if phrase == "" {
		return "", errors.New(emptyMsg)
	}
	return phrase, nil
}
