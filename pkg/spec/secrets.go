package spec

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Secret reference schemes understood by ResolveSecret.
const (
	SecretEnv    = "env:"
	SecretFile   = "file:"
	SecretPlain  = "plain:"
	SecretPrompt = "prompt"
)

// promptPassword reads a secret from the controlling terminal. Replaced in tests.
var promptPassword = func(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for %s: stdin is not a terminal", label)
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return string(b), nil
}

// ResolveSecret turns a secret reference into its value. Supported forms:
//
//	env:NAME      environment variable
//	file:/path    file contents, trailing newline trimmed
//	plain:value   literal (tests and lab use only)
//	prompt        read from the terminal without echo
func ResolveSecret(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, SecretEnv):
		name := strings.TrimPrefix(ref, SecretEnv)
		val, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("secret %s: environment variable %s not set", ref, name)
		}
		return val, nil
	case strings.HasPrefix(ref, SecretFile):
		data, err := os.ReadFile(strings.TrimPrefix(ref, SecretFile))
		if err != nil {
			return "", fmt.Errorf("secret %s: %w", ref, err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	case strings.HasPrefix(ref, SecretPlain):
		return strings.TrimPrefix(ref, SecretPlain), nil
	case ref == SecretPrompt:
		return promptPassword("password")
	case ref == "":
		return "", fmt.Errorf("empty secret reference")
	}
	return "", fmt.Errorf("unsupported secret reference %q", ref)
}

// SecretCache resolves each reference at most once per run, so a "prompt"
// reference asks the operator a single time even with many devices.
type SecretCache struct {
	mu      sync.Mutex
	values  map[string]string
	resolve func(string) (string, error)
}

// NewSecretCache creates a cache backed by ResolveSecret.
func NewSecretCache() *SecretCache {
	return &SecretCache{values: make(map[string]string), resolve: ResolveSecret}
}

// Get resolves ref, caching the value on success.
func (c *SecretCache) Get(ref string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[ref]; ok {
		return v, nil
	}
	v, err := c.resolve(ref)
	if err != nil {
		return "", err
	}
	c.values[ref] = v
	return v, nil
}
