// Package memo turns a finished call's context snapshot into the
// collections memo posted to the reporting sink, including disposition
// classification, flags, and a call summary.
package memo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voxflow-ai/voxflow/pkg/callctx"
)

// ServiceType is the classified outcome of a call.
type ServiceType string

const (
	ServicePaymentNow         ServiceType = "payment_now"
	ServiceSchedulePayment    ServiceType = "schedule_payment"
	ServicePromiseToPay       ServiceType = "promise_to_pay"
	ServicePaymentAlreadyMade ServiceType = "payment_already_made"
	ServiceCallback           ServiceType = "callback"
	ServiceTransfer           ServiceType = "transfer"
	ServiceAppointment        ServiceType = "appointment"
	ServiceDisaster           ServiceType = "disaster"
	ServiceContactMade        ServiceType = "contact_made"
)

var subjectMap = map[ServiceType]string{
	ServicePaymentNow:         "Payment Collected - Collections Call",
	ServiceSchedulePayment:    "Payment Scheduled - Collections Call",
	ServicePromiseToPay:       "Promise to Pay Recorded",
	ServicePaymentAlreadyMade: "Payment Verification - Collections Call",
	ServiceCallback:           "Callback Scheduled",
	ServiceTransfer:           "Transferred to Level 2 - Collections Call",
	ServiceAppointment:        "Appointment Scheduled - Loss Mitigation",
	ServiceDisaster:           "Disaster Impact Recorded",
	ServiceContactMade:        "Customer Contact - Outbound Collections",
}

var dispositionMap = map[ServiceType]string{
	ServicePaymentNow:         "Payment Processed",
	ServiceSchedulePayment:    "Payment Scheduled",
	ServicePromiseToPay:       "Promise to Pay",
	ServicePaymentAlreadyMade: "Payment Verified",
	ServiceCallback:           "Callback Scheduled",
	ServiceTransfer:           "Transferred to Level 2",
	ServiceAppointment:        "Appointment Scheduled",
	ServiceDisaster:           "Disaster Impact Noted",
	ServiceContactMade:        "Contact Made",
}

// optionalFields are always present in the posted memo, nil when unset.
var optionalFields = []string{
	"GaveTotAmtDue", "PaymentAmount", "PaymentDate", "Method", "Confirmation",
	"PromiseToPay", "CallbackTime", "AfterhoursCallbackAgreement",
	"Occupancy", "ReasonForDlqTimeline", "DQResolutionplanned",
	"AlternatePaymentOptionsDiscussed", "IfTP-DocumentRelationship",
	"OtherInformation", "BorrowerID", "Payment", "Promise to Pay", "Callback",
	"Transferred", "Transferred Connected Calls", "Missing Conversation ID",
	"No Connection", "Missing Loan ID", "RecordingProcessed",
}

// Summarizer produces the human-readable call summary for the memo.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []callctx.TranscriptEntry, memo map[string]any) (string, error)
}

// Builder assembles memos from final call snapshots.
type Builder struct {
	sum Summarizer
	now func() time.Time
	log *slog.Logger
}

// NewBuilder wires a Builder. A nil Summarizer means every memo carries
// the templated fallback summary.
func NewBuilder(sum Summarizer, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{sum: sum, now: time.Now, log: log}
}

// Classify decides the call's service type from the final snapshot.
// Earlier outcomes outrank later ones: a transferred call that also
// collected a payment reports as a transfer.
func (b *Builder) Classify(final *callctx.Context) ServiceType {
	switch {
	case final.Bool("transfer_completed") || final.Bool("transfer_requested"):
		return ServiceTransfer
	case final.Bool("callback_scheduled") || final.Bool("callback_time_confirmed"):
		return ServiceCallback
	case final.Bool("appt_scheduled_success") || final.Bool("appointment_confirmed"):
		return ServiceAppointment
	case final.Bool("user_claims_payment_made"):
		return ServicePaymentAlreadyMade
	case final.Bool("payment_processed") || final.String("confirmation_number") != "":
		today := final.String("current_date")
		if today == "" {
			today = b.now().UTC().Format("2006-01-02")
		}
		if final.String("upd_extracted_payment_date") == today {
			return ServicePaymentNow
		}
		return ServiceSchedulePayment
	case final.Bool("declined_bank_account_setup_today") || final.Bool("user_wants_set_up_later"):
		return ServicePromiseToPay
	case final.Bool("affected_by_disaster"):
		return ServiceDisaster
	}
	return ServiceContactMade
}

// Build assembles the full memo document for the reporting sink.
func (b *Builder) Build(ctx context.Context, final *callctx.Context) map[string]any {
	service := b.Classify(final)
	b.log.Info("building memo", "call_sid", final.CallSID, "service", service)

	conversationID := final.String("recording_sid")
	if conversationID == "" {
		conversationID = final.CallSID
	}

	memo := map[string]any{
		"Loan_ID":        final.Seed.LoanID,
		"Subject":        subjectMap[service],
		"Date_Time":      b.now().UTC().Format(time.RFC3339),
		"Category":       "Collections",
		"User":           "FICSAPI",
		"Notify_on_Date": b.notifyDate(final, service),
		"Code":           "Collections",
		"ConversationID": conversationID,
		"WhoYouSpokeTo":  contactName(final),
		"Disposition":    dispositionMap[service],
		"Call Status":    "Completed",
		"Direction":      "Outbound",
	}

	for k, v := range serviceFields(final, service) {
		memo[k] = v
	}

	memo["Occupancy"] = orNil(final.String("occupancy_status"))
	memo["ReasonForDlqTimeline"] = orNil(final.String("delinquency_reason"))
	memo["DQResolutionplanned"] = orNil(final.String("resolution_plan"))
	if final.Bool("borrower_wants_options") {
		memo["AlternatePaymentOptionsDiscussed"] = "Yes"
	}
	memo["OtherInformation"] = orNil(otherInfo(final, service))
	memo["BorrowerID"] = orNil(final.String("BorrowerID"))

	for k, v := range flags(final, service) {
		memo[k] = v
	}

	memo["CallSummary"] = b.summary(ctx, final, service, memo)

	for _, f := range optionalFields {
		if _, ok := memo[f]; !ok {
			memo[f] = nil
		}
	}
	return memo
}

func (b *Builder) summary(ctx context.Context, final *callctx.Context, service ServiceType, memo map[string]any) string {
	if b.sum != nil {
		s, err := b.sum.Summarize(ctx, final.Transcript, memo)
		if err == nil && s != "" {
			return s
		}
		if err != nil {
			b.log.Error("summary generation failed, using fallback", "call_sid", final.CallSID, "error", err)
		}
	}
	return fallbackSummary(final, service)
}

func serviceFields(final *callctx.Context, service ServiceType) map[string]any {
	fields := map[string]any{}
	switch service {
	case ServicePaymentNow, ServiceSchedulePayment:
		fields["PaymentAmount"] = orNil(final.String("user_provided_payment_amount"))
		fields["PaymentDate"] = orNil(final.String("upd_extracted_payment_date"))
		fields["Method"] = orNil(paymentMethod(final))
		fields["Confirmation"] = orNil(final.String("confirmation_number"))
	case ServicePromiseToPay:
		fields["PromiseToPay"] = promiseStatement(final)
		fields["PaymentAmount"] = orNil(final.String("user_provided_payment_amount"))
		fields["PaymentDate"] = orNil(final.String("upd_extracted_payment_date"))
		fields["Method"] = orNil(final.String("alternative_method"))
	case ServicePaymentAlreadyMade:
		fields["PaymentAmount"] = orNil(final.String("claimed_payment_amount"))
		fields["PaymentDate"] = orNil(final.String("claimed_payment_date"))
		fields["Method"] = orNil(final.String("claimed_payment_method"))
	case ServiceCallback:
		fields["CallbackTime"] = orNil(final.String("callback_time"))
		fields["AfterhoursCallbackAgreement"] = orNil(final.String("afterhours_callback"))
	case ServiceAppointment:
		when := final.String("appointment_datetime")
		if when == "" {
			when = "TBD"
		}
		fields["OtherInformation"] = "Appointment scheduled for " + when
	}
	return fields
}

// paymentMethod encodes the sink's single-letter method codes.
func paymentMethod(final *callctx.Context) string {
	if final.Bool("existing_bank_account_confirmed") {
		return "C"
	}
	if final.Bool("new_bank_account_confirmed") {
		if final.String("new_account_payment_method") == "savings" {
			return "S"
		}
		return "N"
	}
	if final.Bool("certified_funds_mail_date_confirmed") {
		return "CF"
	}
	return final.String("payment_method")
}

func promiseStatement(final *callctx.Context) string {
	amount := final.String("user_provided_payment_amount")
	date := final.String("upd_extracted_payment_date")
	method := final.String("alternative_method")
	if method == "" {
		method = "online"
	}
	switch {
	case amount != "" && date != "":
		return fmt.Sprintf("Customer promised $%s by %s via %s", amount, date, method)
	case amount != "":
		return fmt.Sprintf("Customer promised $%s", amount)
	}
	return "Customer made promise to pay"
}

func contactName(final *callctx.Context) string {
	name := strings.TrimSpace(final.Seed.FirstName + " " + final.Seed.LastName)
	if name != "" {
		return name
	}
	if party := final.String("party_name"); party != "" {
		return party
	}
	return "Borrower"
}

func flags(final *callctx.Context, service ServiceType) map[string]any {
	out := map[string]any{
		"Payment":                     nil,
		"Promise to Pay":              nil,
		"Callback":                    nil,
		"Transferred":                 nil,
		"Transferred Connected Calls": nil,
		"No Connection":               nil,
		"Missing Conversation ID":     nil,
		"Missing Loan ID":             nil,
	}
	switch service {
	case ServicePaymentNow, ServiceSchedulePayment:
		out["Payment"] = 1
	case ServicePromiseToPay:
		out["Promise to Pay"] = 1
	case ServiceCallback:
		out["Callback"] = 1
	case ServiceTransfer:
		out["Transferred"] = 1
		out["Transferred Connected Calls"] = 1
	}
	if final.String("recording_sid") == "" && final.CallSID == "" {
		out["Missing Conversation ID"] = 1
	}
	if final.Seed.LoanID == "" {
		out["Missing Loan ID"] = 1
	}
	return out
}

// notifyDate picks the follow-up date: the day before a scheduled
// payment, the callback or appointment date, otherwise today.
func (b *Builder) notifyDate(final *callctx.Context, service ServiceType) string {
	switch service {
	case ServiceSchedulePayment:
		if d, err := time.Parse("2006-01-02", final.String("upd_extracted_payment_date")); err == nil {
			return d.AddDate(0, 0, -1).Format("2006-01-02")
		}
	case ServiceCallback:
		if d, err := parseWhen(final.String("callback_time")); err == nil {
			return d.Format("2006-01-02")
		}
	case ServiceAppointment:
		if d, err := parseWhen(final.String("appointment_datetime")); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return b.now().UTC().Format("2006-01-02")
}

func parseWhen(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func otherInfo(final *callctx.Context, service ServiceType) string {
	var parts []string
	if service == ServicePaymentAlreadyMade {
		parts = append(parts, fmt.Sprintf("Customer claims payment sent %s via %s",
			final.String("claimed_payment_date"), final.String("claimed_payment_method")))
	}
	if final.Bool("affected_by_disaster") {
		parts = append(parts, "Customer affected by disaster - referred to loss mitigation")
	}
	if attempts := final.Counter("dob_attempts"); attempts > 1 {
		parts = append(parts, fmt.Sprintf("DOB verification required %d attempts", attempts))
	}
	if reason := final.String("transfer_reason"); reason != "" {
		parts = append(parts, "Transfer reason: "+reason)
	}
	return strings.Join(parts, "; ")
}

func fallbackSummary(final *callctx.Context, service ServiceType) string {
	name := contactName(final)
	amount := final.String("user_provided_payment_amount")
	if amount == "" {
		amount = final.Seed.TotalAmountDue
	}

	const prefix = "Customer %s was contacted regarding their delinquent mortgage account. "
	switch service {
	case ServicePaymentNow:
		return fmt.Sprintf(prefix+"Payment of $%s was successfully processed. Call completed successfully.", name, amount)
	case ServiceSchedulePayment:
		date := final.String("upd_extracted_payment_date")
		if date == "" {
			date = "a future date"
		}
		return fmt.Sprintf(prefix+"Payment of $%s was scheduled for %s. Call completed successfully.", name, amount, date)
	case ServicePromiseToPay:
		return fmt.Sprintf(prefix+"Customer made a promise to pay commitment. Call completed successfully.", name)
	case ServicePaymentAlreadyMade:
		return fmt.Sprintf(prefix+"Customer indicated payment has already been made. Call completed successfully.", name)
	case ServiceCallback:
		return fmt.Sprintf(prefix+"Callback was scheduled at customer's request. Call completed successfully.", name)
	case ServiceTransfer:
		return fmt.Sprintf(prefix+"Call was transferred to Level 2 agent for further assistance.", name)
	case ServiceAppointment:
		return fmt.Sprintf(prefix+"Appointment was scheduled with loss mitigation team. Call completed successfully.", name)
	case ServiceDisaster:
		return fmt.Sprintf(prefix+"Customer reported being affected by a disaster and was referred to loss mitigation. Call completed successfully.", name)
	}
	return fmt.Sprintf(prefix+"Agent discussed payment options with customer. Call completed successfully.", name)
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
