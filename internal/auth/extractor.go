package auth

import "strings"

const bearerPrefix = "Bearer "

// ExtractBearer pulls the credential out of an Authorization header
// value. It accepts exactly "Bearer <token>": case-sensitive scheme,
// single space, non-empty token after trimming. Anything else is
// treated as an absent credential.
func ExtractBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}

	rest, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok {
		return "", ErrMissingToken
	}
	if strings.HasPrefix(rest, " ") {
		return "", ErrMissingToken
	}

	token := strings.TrimSpace(rest)
	if token == "" {
		return "", ErrMissingToken
	}

	return token, nil
}
