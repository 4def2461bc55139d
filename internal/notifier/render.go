package notifier

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type message struct {
	Subject string
	Tag     string
	HTML    string
}

type templateData struct {
	Name string
	Link string
}

func render(name, subject, tag string, data templateData) (*message, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return &message{Subject: subject, Tag: tag, HTML: buf.String()}, nil
}

func verificationMessage(links Links, token, displayName string) (*message, error) {
	return render("verification.html", "Verify your email address", "email-verification",
		templateData{Name: greeting(displayName), Link: links.VerifyEmail(token)})
}

func passwordResetMessage(links Links, token, displayName string) (*message, error) {
	return render("password_reset.html", "Reset your password", "password-reset",
		templateData{Name: greeting(displayName), Link: links.ResetPassword(token)})
}
