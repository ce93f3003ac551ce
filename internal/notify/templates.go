package notify

import (
	"fmt"
	"html"
)

// In-app notification types.
const (
	TypeRecurringCreated = "appointment.recurring_created"
	TypeSlotOffered      = "waitlist.slot_offered"
	TypeTrialWarning     = "subscription.trial_warning"
	TypeTrialExpired     = "subscription.trial_expired"
	TypePeriodicReport   = "report.periodic"
)

func greetingName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}

// RecurringCreatedData fills the next-in-series message.
type RecurringCreatedData struct {
	ClinicName  string
	PatientName string
	DoctorName  string
	When        string // "Tue Mar 12 at 14:30"
	Code        string
	ActionURL   string
}

// RecurringCreated tells a patient their next recurring visit is booked.
func RecurringCreated(d RecurringCreatedData) Envelope {
	with := ""
	if d.DoctorName != "" {
		with = " with " + d.DoctorName
	}
	text := fmt.Sprintf("Hi %s! Your next recurring appointment%s at %s is booked for %s (ref %s). Reply or call us if you need to change it.",
		greetingName(d.PatientName), with, d.ClinicName, d.When, d.Code)
	return Envelope{
		Subject:   fmt.Sprintf("Your next appointment at %s", d.ClinicName),
		SMSBody:   text,
		EmailText: text,
		EmailHTML: fmt.Sprintf("<p>Hi %s,</p><p>Your next recurring appointment%s at <strong>%s</strong> is booked for <strong>%s</strong>.</p><p>Reference: %s</p>",
			html.EscapeString(greetingName(d.PatientName)), html.EscapeString(with), html.EscapeString(d.ClinicName),
			html.EscapeString(d.When), html.EscapeString(d.Code)),
		InApp: &InAppContent{
			Type:      TypeRecurringCreated,
			Priority:  PriorityNormal,
			Title:     "Next appointment booked",
			Message:   fmt.Sprintf("Your next appointment is on %s.", d.When),
			ActionURL: d.ActionURL,
		},
	}
}

// SlotOfferData fills the waitlist confirmation request.
type SlotOfferData struct {
	ClinicName  string
	PatientName string
	DoctorName  string
	When        string
	Code        string
	ActionURL   string
}

// SlotOffered asks a waitlisted patient to confirm a freed slot.
func SlotOffered(d SlotOfferData) Envelope {
	with := ""
	if d.DoctorName != "" {
		with = " with " + d.DoctorName
	}
	text := fmt.Sprintf("Hi %s! A slot opened up%s at %s on %s and we've reserved it for you (ref %s). Please confirm to keep it.",
		greetingName(d.PatientName), with, d.ClinicName, d.When, d.Code)
	return Envelope{
		Subject:   fmt.Sprintf("An appointment opened up at %s", d.ClinicName),
		SMSBody:   text,
		EmailText: text,
		EmailHTML: fmt.Sprintf("<p>Hi %s,</p><p>A slot opened up%s at <strong>%s</strong> on <strong>%s</strong> and we've reserved it for you.</p><p>Please confirm to keep it. Reference: %s</p>",
			html.EscapeString(greetingName(d.PatientName)), html.EscapeString(with), html.EscapeString(d.ClinicName),
			html.EscapeString(d.When), html.EscapeString(d.Code)),
		InApp: &InAppContent{
			Type:      TypeSlotOffered,
			Priority:  PriorityHigh,
			Title:     "Appointment available",
			Message:   fmt.Sprintf("A slot on %s is reserved for you. Please confirm.", d.When),
			ActionURL: d.ActionURL,
		},
	}
}

// TrialWarning warns a tenant admin about an upcoming trial expiry.
func TrialWarning(clinicName string, daysRemaining int, actionURL string) Envelope {
	unit := "days"
	if daysRemaining == 1 {
		unit = "day"
	}
	text := fmt.Sprintf("Your %s trial ends in %d %s. Choose a plan to keep your automations running.", clinicName, daysRemaining, unit)
	return Envelope{
		Subject:   fmt.Sprintf("Your trial ends in %d %s", daysRemaining, unit),
		SMSBody:   text,
		EmailText: text,
		EmailHTML: fmt.Sprintf("<p>Your <strong>%s</strong> trial ends in <strong>%d %s</strong>.</p><p>Choose a plan to keep your automations running.</p>",
			html.EscapeString(clinicName), daysRemaining, unit),
		InApp: &InAppContent{
			Type:      TypeTrialWarning,
			Priority:  PriorityHigh,
			Title:     "Trial ending soon",
			Message:   text,
			ActionURL: actionURL,
		},
	}
}

// TrialExpired tells a tenant admin the trial has ended.
func TrialExpired(clinicName, actionURL string) Envelope {
	text := fmt.Sprintf("Your %s trial has ended. Upgrade to restore full access.", clinicName)
	return Envelope{
		Subject:   "Your trial has ended",
		SMSBody:   text,
		EmailText: text,
		EmailHTML: fmt.Sprintf("<p>Your <strong>%s</strong> trial has ended.</p><p>Upgrade to restore full access.</p>", html.EscapeString(clinicName)),
		InApp: &InAppContent{
			Type:      TypeTrialExpired,
			Priority:  PriorityHigh,
			Title:     "Trial ended",
			Message:   text,
			ActionURL: actionURL,
		},
	}
}

// PeriodicReport wraps a rendered report for the email channel only.
func PeriodicReport(subject, text, htmlBody string) Envelope {
	return Envelope{
		Subject:   subject,
		EmailText: text,
		EmailHTML: htmlBody,
		Channels:  []Channel{ChannelEmail},
	}
}
