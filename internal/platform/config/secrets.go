package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSecretResolver resolves the two reference forms the storefront deploys with:
//
//	secret://env/NAME      the value of environment variable NAME
//	secret://file/PATH     the trimmed contents of the mounted file at absolute PATH
//
// Any other reference is an error, which Load reports as a SecretError.
func DefaultSecretResolver(lookup func(string) (string, bool)) SecretResolver {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		rest := strings.TrimPrefix(strings.TrimSpace(ref), "secret://")
		scheme, target, ok := strings.Cut(rest, "/")
		if !ok || strings.TrimSpace(target) == "" {
			return "", errors.New("malformed secret reference")
		}
		switch scheme {
		case "env":
			value, ok := lookup(target)
			if !ok || strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("environment variable %s is not set", target)
			}
			return value, nil
		case "file":
			path := filepath.Clean("/" + target)
			data, err := os.ReadFile(path)
			if err != nil {
				return "", fmt.Errorf("read secret file: %w", err)
			}
			value := strings.TrimSpace(string(data))
			if value == "" {
				return "", fmt.Errorf("secret file %s is empty", path)
			}
			return value, nil
		default:
			return "", fmt.Errorf("unsupported secret source %q", scheme)
		}
	})
}
