package mail

import (
	"bytes"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
)

const resetSubject = "Reset Your Password - SME Hub"

var resetText = texttemplate.Must(texttemplate.New("reset.txt").Parse(`Reset Your Password - SME Hub

Hi {{.Username}},

You requested to reset your password for your SME Hub account.

Click the link below to reset your password:
{{.Link}}

IMPORTANT:
- This link will expire in {{.ExpiryMinutes}} minutes
- You can only use this link once
- If you didn't request this, please ignore this email

Best regards,
SME Hub Team
`))

var resetHTML = htmltemplate.Must(htmltemplate.New("reset.html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Reset Your Password</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1>Reset Your Password</h1>
  <p>Hi {{.Username}},</p>
  <p>You requested to reset your password for your SME Hub account. Click the button below to reset it:</p>
  <p style="text-align: center;">
    <a href="{{.Link}}" style="display: inline-block; background: #667eea; color: #fff; padding: 15px 30px; text-decoration: none; border-radius: 5px;">Reset Password</a>
  </p>
  <p>Or copy and paste this link into your browser:</p>
  <p style="word-break: break-all; background: #f0f0f0; padding: 10px;">{{.Link}}</p>
  <ul>
    <li>This link will expire in <strong>{{.ExpiryMinutes}} minutes</strong></li>
    <li>You can only use this link once</li>
    <li>If you didn't request this, please ignore this email</li>
  </ul>
  <p>Best regards,<br><strong>SME Hub Team</strong></p>
</body>
</html>
`))

type resetData struct {
	Username      string
	Link          string
	ExpiryMinutes int
}

// ResetLink builds the frontend URL carrying the reset token.
func ResetLink(frontendURL, token string) string {
	base := strings.TrimRight(frontendURL, "/")
	return base + "/reset-password?token=" + url.QueryEscape(token)
}

// ResetEmail renders the password-reset message for one recipient.
func ResetEmail(to, username, link string, expiry time.Duration) (Message, error) {
	data := resetData{
		Username:      username,
		Link:          link,
		ExpiryMinutes: int(expiry / time.Minute),
	}

	var text, html bytes.Buffer
	if err := resetText.Execute(&text, data); err != nil {
		return Message{}, err
	}
	if err := resetHTML.Execute(&html, data); err != nil {
		return Message{}, err
	}

	return Message{
		To:      to,
		Subject: resetSubject,
		Text:    text.String(),
		HTML:    html.String(),
		Link:    link,
	}, nil
}
