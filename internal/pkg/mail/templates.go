package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
)

// Template names understood by Render.
const (
	TemplateWelcome               = "welcome"
	TemplateSubscriptionActivated = "subscription_activated"
	TemplatePaymentReceipt        = "payment_receipt"
	TemplatePaymentFailed         = "payment_failed"
	TemplateSubscriptionCanceled  = "subscription_canceled"
	TemplateRenewalReminder       = "renewal_reminder"
)

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Subject}}</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 520px; margin: 0 auto; background: #ffffff; border-radius: 8px; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: left;">
<h1 style="margin: 0 0 16px; font-size: 22px; color: #1a1a1a;">{{.Subject}}</h1>
<p style="margin: 0 0 16px; color: #333; font-size: 15px;">Hi {{.Name}},</p>
{{range .Paragraphs}}<p style="margin: 0 0 16px; color: #555; font-size: 15px; line-height: 1.5;">{{.}}</p>
{{end}}{{if .ActionURL}}<a href="{{.ActionURL}}" style="display: inline-block; padding: 12px 28px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px;">{{.ActionLabel}}</a>
{{end}}<p style="margin: 24px 0 0; color: #999; font-size: 13px;">The MemberPortal team</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

type emailTemplate struct {
	subject     string
	paragraphs  []string
	actionLabel string
	actionPath  string
}

var templates = map[string]emailTemplate{
	TemplateWelcome: {
		subject: "Welcome to MemberPortal",
		paragraphs: []string{
			"Your account has been created. You are on the {{.tier}} plan.",
			"Upgrade at any time to unlock more of the API.",
		},
		actionLabel: "Open your account",
		actionPath:  "/user/profile",
	},
	TemplateSubscriptionActivated: {
		subject: "Your {{.tier}} membership is active",
		paragraphs: []string{
			"Thanks for subscribing. Your membership tier is now {{.tier}}.",
			"You can create API tokens with the scopes of your new tier right away.",
		},
		actionLabel: "Manage tokens",
		actionPath:  "/user/tokens",
	},
	TemplatePaymentReceipt: {
		subject: "Payment received",
		paragraphs: []string{
			"We received your payment of {{.amount}}.",
			"Your {{.tier}} membership renews on {{.renewal_date}}.",
		},
	},
	TemplatePaymentFailed: {
		subject: "Payment failed",
		paragraphs: []string{
			"We could not collect the latest payment for your {{.tier}} membership.",
			"Please update your payment method to keep your membership active.",
		},
		actionLabel: "Update billing",
		actionPath:  "/user/billing",
	},
	TemplateSubscriptionCanceled: {
		subject: "Your membership was canceled",
		paragraphs: []string{
			"Your {{.tier}} subscription has been canceled.",
			"Your account now uses the {{.new_tier}} plan.",
		},
	},
	TemplateRenewalReminder: {
		subject: "Your membership renews soon",
		paragraphs: []string{
			"Your {{.tier}} membership renews on {{.renewal_date}}.",
			"No action is needed if your payment details are up to date.",
		},
		actionLabel: "Review billing",
		actionPath:  "/user/billing",
	},
}

type layoutData struct {
	Subject     string
	Name        string
	Paragraphs  []string
	ActionURL   string
	ActionLabel string
}

// BaseURL is prefixed to action links. Set once at boot.
var BaseURL = "http://localhost:4000"

// Render produces subject, HTML and plain text bodies for msg.
func Render(msg Message) (subject, htmlBody, textBody string, err error) {
	tpl, ok := templates[msg.Template]
	if !ok {
		return "", "", "", fmt.Errorf("mail: unknown template %q", msg.Template)
	}

	subject, err = expand(tpl.subject, msg.Data)
	if err != nil {
		return "", "", "", err
	}
	paragraphs := make([]string, 0, len(tpl.paragraphs))
	for _, p := range tpl.paragraphs {
		line, err := expand(p, msg.Data)
		if err != nil {
			return "", "", "", err
		}
		paragraphs = append(paragraphs, line)
	}

	name := strings.TrimSpace(msg.Name)
	if name == "" {
		name = "there"
	}
	data := layoutData{
		Subject:     subject,
		Name:        name,
		Paragraphs:  paragraphs,
		ActionLabel: tpl.actionLabel,
	}
	if tpl.actionPath != "" {
		data.ActionURL = strings.TrimRight(BaseURL, "/") + tpl.actionPath
	}

	var buf bytes.Buffer
	if err := layout.Execute(&buf, data); err != nil {
		return "", "", "", fmt.Errorf("render %s template: %w", msg.Template, err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\n", name)
	for _, p := range paragraphs {
		text.WriteString(p)
		text.WriteString("\n\n")
	}
	if data.ActionURL != "" {
		fmt.Fprintf(&text, "%s: %s\n\n", data.ActionLabel, data.ActionURL)
	}
	text.WriteString("The MemberPortal team")

	return subject, buf.String(), text.String(), nil
}

// expand fills a plain text snippet. The html layout escapes the result later.
func expand(snippet string, data map[string]string) (string, error) {
	t, err := texttemplate.New("snippet").Option("missingkey=zero").Parse(snippet)
	if err != nil {
		return "", err
	}
	if data == nil {
		data = map[string]string{}
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
