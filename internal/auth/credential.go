package auth

import "strings"

const credentialSeparator = "."

// ParseRefreshToken splits a refresh credential into its session id and secret.
// The credential is split on the first separator; a missing separator or an empty
// part yields ErrUnauthorized.
func ParseRefreshToken(token string) (sessionID, secret string, err error) {
	sessionID, secret, found := strings.Cut(strings.TrimSpace(token), credentialSeparator)
	if !found || sessionID == "" || secret == "" {
		return "", "", ErrUnauthorized
	}
	return sessionID, secret, nil
}

func composeRefreshToken(sessionID, secret string) string {
	return sessionID + credentialSeparator + secret
}
