package mail

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type logMailer struct {
	log *zap.Logger
}

// NewLogMailer returns a Mailer that writes messages to the log instead of delivering them.
// It is used in development when SMTP is disabled.
func NewLogMailer(log *zap.Logger) Mailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &logMailer{log: log}
}

func (m *logMailer) Send(_ context.Context, msg Message) error {
	m.log.Info("email delivery skipped (smtp disabled)",
		zap.String("to", strings.Join(uniqueAddresses(msg.To), ",")),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
