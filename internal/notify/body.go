package notify

import (
	"fmt"
	"strings"
)

// OrderSummary carries the fields needed to compose order SMS bodies.
type OrderSummary struct {
	Name string

	// Recipient is the verified caller number the confirmation is sent to.
	// When empty, Phone is used.
	Recipient string

	// Phone is the contact number shown in message bodies. It comes from
	// the conversation and may be formatted differently than Recipient.
	Phone string
	// Foods is the human-readable item list, e.g. "1 Arancini ($6), 2 Chicken Parmigiana ($28)".
	Foods string
	// Total is the formatted order total, e.g. "$34.00".
	Total      string
	Location   string
	PickupTime string
	// Updated is true when the order replaced an earlier one from today.
	Updated bool
}

// CustomerBody renders the confirmation text sent to the caller.
func CustomerBody(s OrderSummary, addresses map[string]string) string {
	var b strings.Builder
	verb := "processed"
	if s.Updated {
		verb = "updated"
	}
	fmt.Fprintf(&b, "Dear %s,\n", displayName(s.Name))
	fmt.Fprintf(&b, "We are pleased to inform you that your order of %s has been successfully %s.\n", s.Foods, verb)
	fmt.Fprintf(&b, "The total price of your order is %s and your food will be prepared at %s in %s as requested.\n",
		s.Total, s.PickupTime, s.Location)
	if addr := addresses[s.Location]; addr != "" {
		fmt.Fprintf(&b, "\nLocation Details:\n%s\n", addr)
	}
	b.WriteString("\nWe hope you enjoy your meal and have a wonderful experience.\n")
	b.WriteString("Should you have any questions or need further assistance, please don't hesitate to reach out.\n")
	b.WriteString("Thank you for choosing us. We look forward to serving you again in the future.\n")
	b.WriteString("Warm Regards.")
	return b.String()
}

// ManagerBody renders the kitchen copy sent to the manager.
func ManagerBody(s OrderSummary, addresses map[string]string) string {
	var b strings.Builder
	if s.Updated {
		b.WriteString("UPDATED ORDER: ")
	}
	fmt.Fprintf(&b, "%s (Contact Number: %s) ordered %s.", displayName(s.Name), s.Phone, s.Foods)
	fmt.Fprintf(&b, " The total price of this order is %s and it must be prepared by %s in %s",
		s.Total, s.PickupTime, s.Location)
	if addr := addresses[s.Location]; addr != "" {
		fmt.Fprintf(&b, " (%s)", addr)
	}
	b.WriteString(".")
	return b.String()
}

func displayName(name string) string {
	if name == "" {
		return "Customer"
	}
	return name
}
