package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"RSSBouncer/internal/ports"
)

// ErrNotFound is returned when neither NAME nor NAME_FILE is set.
var ErrNotFound = errors.New("secret not found")

// EnvProvider resolves secrets from the environment. NAME wins over NAME_FILE,
// which points at a file holding the value (docker and k8s secret mounts).
type EnvProvider struct {
	lookup   func(string) (string, bool)
	readFile func(string) ([]byte, error)
}

var _ ports.SecretProvider = (*EnvProvider)(nil)

// NewEnvProvider reads from the process environment.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv, readFile: os.ReadFile}
}

// Secret returns the trimmed value for name.
func (p *EnvProvider) Secret(_ context.Context, name string) (string, error) {
	if value, ok := p.lookup(name); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}

	path, ok := p.lookup(name + "_FILE")
	if !ok || strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	raw, err := p.readFile(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("read %s_FILE: %w", name, err)
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return "", fmt.Errorf("%s_FILE is empty: %w", name, ErrNotFound)
	}

	return value, nil
}
