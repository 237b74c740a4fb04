package billing

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestFrequencyAdvance(t *testing.T) {
	cases := []struct {
		name string
		freq Frequency
		from time.Time
		want time.Time
	}{
		{"weekly", FreqWeekly, day(2024, time.March, 1), day(2024, time.March, 8)},
		{"biweekly", FreqBiweekly, day(2024, time.March, 1), day(2024, time.March, 15)},
		{"monthly plain", FreqMonthly, day(2024, time.June, 12), day(2024, time.July, 12)},
		{"monthly clamps to leap feb", FreqMonthly, day(2024, time.January, 31), day(2024, time.February, 29)},
		{"monthly clamps to short feb", FreqMonthly, day(2023, time.January, 31), day(2023, time.February, 28)},
		{"monthly clamps 31 to 30", FreqMonthly, day(2024, time.March, 31), day(2024, time.April, 30)},
		{"quarterly", FreqQuarterly, day(2023, time.November, 30), day(2024, time.February, 29)},
		{"yearly", FreqYearly, day(2023, time.February, 28), day(2024, time.February, 28)},
		{"yearly from leap day", FreqYearly, day(2024, time.February, 29), day(2025, time.February, 28)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.freq.Advance(tc.from)
			if err != nil {
				t.Fatalf("advance: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Fatalf("expected %s got %s", tc.want.Format("2006-01-02"), got.Format("2006-01-02"))
			}
		})
	}
}

func TestFrequencyAdvanceUnknown(t *testing.T) {
	_, err := Frequency("daily").Advance(day(2024, time.March, 1))
	if err != ErrUnknownFrequency {
		t.Fatalf("expected ErrUnknownFrequency got %v", err)
	}
}

func TestValidateInvoiceTransition(t *testing.T) {
	legal := []struct{ from, to InvoiceStatus }{
		{InvoiceDraft, InvoiceSent},
		{InvoiceDraft, InvoiceCancelled},
		{InvoiceSent, InvoiceOverdue},
		{InvoiceSent, InvoicePaid},
		{InvoiceViewed, InvoicePartiallyPaid},
		{InvoiceOverdue, InvoicePaid},
		{InvoiceOverdue, InvoiceWrittenOff},
		{InvoicePartiallyPaid, InvoiceSent},
		{InvoicePaid, InvoiceSent},
		{InvoicePaid, InvoicePaid},
	}
	for _, tc := range legal {
		if err := ValidateInvoiceTransition(tc.from, tc.to); err != nil {
			t.Errorf("%s -> %s should be legal: %v", tc.from, tc.to, err)
		}
	}

	illegal := []struct{ from, to InvoiceStatus }{
		{InvoiceDraft, InvoicePaid},
		{InvoiceDraft, InvoiceOverdue},
		{InvoiceOverdue, InvoiceSent},
		{InvoiceOverdue, InvoiceCancelled},
		{InvoiceCancelled, InvoiceSent},
		{InvoiceWrittenOff, InvoicePaid},
		{InvoicePaid, InvoiceOverdue},
	}
	for _, tc := range illegal {
		if err := ValidateInvoiceTransition(tc.from, tc.to); err == nil {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	if !InvoiceCancelled.Terminal() || !InvoiceWrittenOff.Terminal() {
		t.Fatal("cancelled and written_off are terminal")
	}
	for _, s := range []InvoiceStatus{InvoiceDraft, InvoiceSent, InvoiceViewed, InvoicePartiallyPaid, InvoicePaid, InvoiceOverdue} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}

func TestIsReminderDayExactMatch(t *testing.T) {
	s := Settings{ReminderDaysAfterDue: []int{3, 7, 14}}
	if !s.IsReminderDay(3) || !s.IsReminderDay(14) {
		t.Fatal("configured offsets must match")
	}
	// 4 days overdue is past the first offset but matches nothing.
	if s.IsReminderDay(4) || s.IsReminderDay(15) || s.IsReminderDay(0) {
		t.Fatal("offsets match exactly, not at-least")
	}
}
