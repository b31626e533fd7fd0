package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

var (
	confirmationTemplate = template.Must(template.New("confirmation").Parse(`<p>Hello {{.Name}},</p>
<p>Thanks for signing up. Confirm your email address by following the link below:</p>
<p><a href="{{.Link}}">Confirm email</a></p>
<p>The link is valid for 24 hours.</p>`))

	passwordResetTemplate = template.Must(template.New("password_reset").Parse(`<p>Hello {{.Name}},</p>
<p>We received a request to reset your password. Follow the link below to choose a new one:</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>The link is valid for 1 hour. If you did not request a reset you can ignore this email.</p>`))
)

type linkData struct {
	Name string
	Link string
}

// ConfirmationMessage renders the email confirmation mail for a recipient.
func ConfirmationMessage(to, name, link string) (Message, error) {
	return render(confirmationTemplate, to, "Confirm your email", name, link)
}

// PasswordResetMessage renders the password reset mail for a recipient.
func PasswordResetMessage(to, name, link string) (Message, error) {
	return render(passwordResetTemplate, to, "Reset your password", name, link)
}

func render(tpl *template.Template, to, subject, name, link string) (Message, error) {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, linkData{Name: name, Link: link}); err != nil {
		return Message{}, fmt.Errorf("mail: render %s: %w", tpl.Name(), err)
	}
	return Message{
		To:      []string{to},
		Subject: subject,
		Body:    fmt.Sprintf("Hello %s,\n\n%s\n", name, link),
		HTML:    buf.String(),
	}, nil
}
