// Package credential resolves credential references to secrets.
//
// Configuration and collection metadata only ever hold a Ref such as
// "env:OPENAI_API_KEY" or "keyring:openai". The secret is looked up at the
// moment a request is made and is never stored or logged.
package credential

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/zalando/go-keyring"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
)

// KeyringService is the service name used for OS keyring entries.
const KeyringService = "amankb"

// Reference schemes.
const (
	SchemeEnv     = "env"
	SchemeKeyring = "keyring"
)

// Ref is a credential reference, never a secret.
type Ref string

// Parse splits the reference into scheme and name.
func (r Ref) Parse() (scheme, name string, err error) {
	scheme, name, ok := strings.Cut(string(r), ":")
	if !ok || name == "" {
		return "", "", fmt.Errorf("credential reference %q must look like env:NAME or keyring:NAME", string(r))
	}
	switch scheme {
	case SchemeEnv, SchemeKeyring:
		return scheme, name, nil
	default:
		return "", "", fmt.Errorf("unsupported credential scheme %q", scheme)
	}
}

// String implements fmt.Stringer. Printing a Ref is always safe.
func (r Ref) String() string { return string(r) }

// Resolver turns a reference into the secret it names.
type Resolver interface {
	Resolve(ctx context.Context, ref Ref) (string, error)
}

// EnvResolver reads environment variables, falling back to values parsed
// from .env files. The process environment always wins.
type EnvResolver struct {
	dotenv map[string]string
}

// NewEnvResolver parses the given .env files. Missing files are skipped.
func NewEnvResolver(dotenvFiles ...string) (*EnvResolver, error) {
	merged := make(map[string]string)
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		vals, err := godotenv.Read(f)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f, err)
		}
		for k, v := range vals {
			if _, seen := merged[k]; !seen {
				merged[k] = v
			}
		}
	}
	return &EnvResolver{dotenv: merged}, nil
}

// Resolve implements Resolver for env: references.
func (e *EnvResolver) Resolve(_ context.Context, ref Ref) (string, error) {
	scheme, name, err := ref.Parse()
	if err != nil {
		return "", amerrors.CredentialMissing(ref.String(), err)
	}
	if scheme != SchemeEnv {
		return "", amerrors.CredentialMissing(ref.String(), fmt.Errorf("env resolver cannot handle %s references", scheme))
	}
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	if v := e.dotenv[name]; v != "" {
		return v, nil
	}
	return "", amerrors.CredentialMissing(ref.String(), fmt.Errorf("environment variable %s is not set", name))
}

// KeyringResolver reads secrets from the OS keyring.
type KeyringResolver struct {
	service string
}

// NewKeyringResolver returns a resolver for the given keyring service.
func NewKeyringResolver(service string) *KeyringResolver {
	if service == "" {
		service = KeyringService
	}
	return &KeyringResolver{service: service}
}

// Resolve implements Resolver for keyring: references.
func (k *KeyringResolver) Resolve(_ context.Context, ref Ref) (string, error) {
	scheme, name, err := ref.Parse()
	if err != nil {
		return "", amerrors.CredentialMissing(ref.String(), err)
	}
	if scheme != SchemeKeyring {
		return "", amerrors.CredentialMissing(ref.String(), fmt.Errorf("keyring resolver cannot handle %s references", scheme))
	}
	v, err := keyring.Get(k.service, name)
	if err != nil || v == "" {
		return "", amerrors.CredentialMissing(ref.String(), err)
	}
	return v, nil
}

// Store saves secret under name in the keyring.
func (k *KeyringResolver) Store(name, secret string) error {
	if name == "" || secret == "" {
		return fmt.Errorf("keyring name and secret must not be empty")
	}
	return keyring.Set(k.service, name, secret)
}

// Delete removes name from the keyring.
func (k *KeyringResolver) Delete(name string) error {
	return keyring.Delete(k.service, name)
}

// SchemeResolver dispatches to a resolver by reference scheme.
type SchemeResolver struct {
	byScheme map[string]Resolver
}

// NewSchemeResolver builds a dispatching resolver.
func NewSchemeResolver(env, kr Resolver) *SchemeResolver {
	return &SchemeResolver{byScheme: map[string]Resolver{
		SchemeEnv:     env,
		SchemeKeyring: kr,
	}}
}

// Resolve implements Resolver. An empty reference resolves to "" so that
// backends without authentication (ollama, static) need no special casing.
func (s *SchemeResolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	if ref == "" {
		return "", nil
	}
	scheme, _, err := ref.Parse()
	if err != nil {
		return "", amerrors.CredentialMissing(ref.String(), err)
	}
	r, ok := s.byScheme[scheme]
	if !ok || r == nil {
		return "", amerrors.CredentialMissing(ref.String(), fmt.Errorf("no resolver for %s references", scheme))
	}
	return r.Resolve(ctx, ref)
}

// NewDefault returns the resolver used by the CLI: environment (plus the
// given .env files) and the amankb keyring service.
func NewDefault(dotenvFiles ...string) (Resolver, error) {
	env, err := NewEnvResolver(dotenvFiles...)
	if err != nil {
		return nil, err
	}
	return NewSchemeResolver(env, NewKeyringResolver(KeyringService)), nil
}

// Static resolves every reference from a fixed map. Used in tests.
type Static map[Ref]string

// Resolve implements Resolver.
func (s Static) Resolve(_ context.Context, ref Ref) (string, error) {
	if ref == "" {
		return "", nil
	}
	if v, ok := s[ref]; ok {
		return v, nil
	}
	return "", amerrors.CredentialMissing(ref.String(), nil)
}

var (
	_ Resolver = (*EnvResolver)(nil)
	_ Resolver = (*KeyringResolver)(nil)
	_ Resolver = (*SchemeResolver)(nil)
	_ Resolver = Static(nil)
)
