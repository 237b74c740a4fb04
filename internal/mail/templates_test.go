package mail

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func sampleData() ReminderData {
	return ReminderData{
		ClientName:    "Acme GmbH",
		InvoiceNumber: "INV-00042",
		Currency:      "EUR",
		Total:         decimal.RequireFromString("1085.99"),
		AmountDue:     decimal.RequireFromString("485.99"),
		DueDate:       time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
		DaysOverdue:   7,
	}
}

func TestRenderReminderDefaults(t *testing.T) {
	r, err := NewRenderer("", "")
	require.NoError(t, err)

	subject, body, err := r.RenderReminder(sampleData())
	require.NoError(t, err)

	require.Equal(t, "Payment reminder: invoice INV-00042 is 7 days overdue", subject)
	require.Contains(t, body, "Acme GmbH")
	require.Contains(t, body, "INV-00042")
	require.Contains(t, body, "01 Mar 2024")
	require.Contains(t, body, "EUR 485.99")
}

func TestRenderReminderCustomTemplates(t *testing.T) {
	r, err := NewRenderer(
		"{{.InvoiceNumber}} overdue",
		"<p>{{formatAmount .Currency .AmountDue}} outstanding</p>",
	)
	require.NoError(t, err)

	subject, body, err := r.RenderReminder(sampleData())
	require.NoError(t, err)
	require.Equal(t, "INV-00042 overdue", subject)
	require.Equal(t, "<p>EUR 485.99 outstanding</p>", body)
}

func TestRenderReminderEscapesClientName(t *testing.T) {
	r, err := NewRenderer("", "")
	require.NoError(t, err)

	data := sampleData()
	data.ClientName = `<script>alert("x")</script>`
	_, body, err := r.RenderReminder(data)
	require.NoError(t, err)
	require.NotContains(t, body, "<script>")
	require.Contains(t, body, "&lt;script&gt;")
}

func TestRenderReminderFallsBackWithoutName(t *testing.T) {
	r, err := NewRenderer("", "")
	require.NoError(t, err)

	data := sampleData()
	data.ClientName = ""
	_, body, err := r.RenderReminder(data)
	require.NoError(t, err)
	require.Contains(t, body, "Dear customer")
}

func TestNewRendererRejectsBrokenTemplate(t *testing.T) {
	_, err := NewRenderer("{{.Broken", "")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "subject"))

	_, err = NewRenderer("", "{{.Broken")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "body"))
}
