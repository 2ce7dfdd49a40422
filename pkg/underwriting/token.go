package underwriting

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// TokenProvider supplies the bearer token for each request. An empty token
// sends the request without an Authorization header.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

// Token returns the token itself.
func (t StaticToken) Token(_ context.Context) (string, error) {
	return strings.TrimSpace(string(t)), nil
}

// EnvToken reads the token from an environment variable on every request.
type EnvToken string

// Token returns the variable's value, or an error when it is unset.
func (e EnvToken) Token(_ context.Context) (string, error) {
	v, ok := os.LookupEnv(string(e))
	if !ok {
		return "", eris.Errorf("underwriting: token env %s not set", string(e))
	}
	return strings.TrimSpace(v), nil
}

// FileToken reads the token from a file on every request so rotated
// credentials are picked up without a restart.
type FileToken string

// Token returns the trimmed file contents.
func (f FileToken) Token(_ context.Context) (string, error) {
	b, err := os.ReadFile(string(f))
	if err != nil {
		return "", eris.Wrapf(err, "underwriting: read token file %s", string(f))
	}
	return strings.TrimSpace(string(b)), nil
}
