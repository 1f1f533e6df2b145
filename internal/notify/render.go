// Package notify delivers draw notifications. The matcher queues one
// protocol.Notification per giver and channel on NATS; the Dispatcher
// renders each one and hands it to a Sender for the channel.
package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/whisper/santa/internal/protocol"
)

var (
	emailSubject = template.Must(template.New("subject").Parse(
		`Your Secret Santa match for {{.EventName}}`))

	emailBody = template.Must(template.New("email").Funcs(funcs).Parse(`Hi {{.GiverName}},

You are the Secret Santa of {{.ReceiverName}} ({{.ReceiverEmail}}) for {{.EventName}}.
{{if .BudgetCents}}Budget: {{money .BudgetCents .Currency}}
{{end}}{{if .ExchangeDate}}Gift exchange on {{.ExchangeDate}}.
{{end}}{{if .Wishlist}}
Their wishlist:
{{.Wishlist}}
{{end}}
Keep it secret!
`))

	shortBody = template.Must(template.New("short").Funcs(funcs).Parse(
		`{{.EventName}}: you are the Secret Santa of {{.ReceiverName}}.` +
			`{{if .BudgetCents}} Budget {{money .BudgetCents .Currency}}.{{end}}` +
			`{{if .ExchangeDate}} Exchange on {{.ExchangeDate}}.{{end}}` +
			`{{if .Wishlist}} Wishlist: {{.Wishlist}}{{end}}`))
)

var funcs = template.FuncMap{
	"money": func(cents int64, currency string) string {
		return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, currency)
	},
}

// Render returns the subject and body for n. SMS and WhatsApp messages have
// no subject and a single-line body.
func Render(n protocol.Notification) (string, string, error) {
	switch n.Channel {
	case protocol.ChannelEmail:
		subject, err := execute(emailSubject, n)
		if err != nil {
			return "", "", err
		}
		body, err := execute(emailBody, n)
		if err != nil {
			return "", "", err
		}
		return subject, body, nil
	case protocol.ChannelSMS, protocol.ChannelWhatsApp:
		body, err := execute(shortBody, n)
		if err != nil {
			return "", "", err
		}
		return "", body, nil
	default:
		return "", "", fmt.Errorf("notify: unknown channel %q", n.Channel)
	}
}

func execute(t *template.Template, n protocol.Notification) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, n); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
