package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/charlesng35/animehub/pkg/crypto"
	"github.com/charlesng35/animehub/pkg/mail"
)

const singleUseTokenBytes = 32

// tokenDelivery mails links carrying single-use tokens. Only the SHA-256 digest of a token is
// ever stored so a database leak does not expose usable links.
type tokenDelivery struct {
	mailer  mail.Mailer
	baseURL string
}

func newSingleUseToken() (plain, digest string, err error) {
	plain, err = crypto.GenerateToken(singleUseTokenBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	return plain, hashToken(plain), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

// link returns the frontend URL for token, or the bare token when no base URL is configured.
func (d tokenDelivery) link(token string) string {
	if d.baseURL == "" {
		return token
	}
	return d.baseURL + "?token=" + url.QueryEscape(token)
}

// send renders and delivers a message. A disabled SMTP transport is not an error.
func (d tokenDelivery) send(ctx context.Context, build func() (mail.Message, error)) error {
	if d.mailer == nil {
		return nil
	}
	msg, err := build()
	if err != nil {
		return err
	}
	if err := d.mailer.Send(ctx, msg); err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
