package flow

import "github.com/voxflow-ai/voxflow/pkg/template"

// Well-known node ids in the collections call flow.
const (
	NodeGreeting         = "n61"
	NodeDOBFirst         = "n68"
	NodeDOBMismatch      = "n32"
	NodeDOBSecond        = "n22"
	NodeDOBFailed        = "n26"
	NodeMiniMiranda      = "n41"
	NodeOccupancy        = "n45"
	NodeDisasterCheck    = "n20"
	NodeContinue         = "n28"
	NodeLossMitigation   = "n37"
	NodePaymentCollect   = "n49"
	NodeDelinquency      = "n19"
	NodePaymentValidate  = "n67"
	NodeAccountCollect   = "n1"
	NodeNACHA            = "n42"
	NodePaymentProcess   = "n50"
	NodeConfirmation     = "n51"
	NodePaymentOptions   = "n23"
	NodeCertifiedFunds   = "n12"
	NodeTransferIntake   = "n34"
	NodeTransferConfirm  = "n35"
	NodeTransferExecute  = "n36"
	NodeAttorney         = "n5"
	NodeCeaseDesist      = "n11"
	NodeCallback         = "n8"
	NodeCallbackDone     = "n9"
	NodeApptSchedule     = "n56"
	NodeApptSlots        = "n6"
	NodeApptOffer        = "n4"
	NodeApptConfirm      = "n3"
	NodeApptSuccess      = "n62"
	NodeWrongNumber      = "n69"
	NodeEndStandard      = "n25"
	NodeEndAlternative   = "n24"
	NodeEndTransferDone  = "n2"
)

// dobAttemptCeiling caps identity verification retries before the call is
// escalated to a live specialist.
const dobAttemptCeiling = 5

// Always fires unconditionally, for pass-through nodes.
func Always() Condition {
	return func(template.Values) bool { return true }
}

// Present holds when the named value exists and is not a null sentinel
// ("NA", "N/A", "null", empty).
func Present(name string) Condition {
	return func(v template.Values) bool {
		val, ok := v.Lookup(name)
		if !ok || val == nil {
			return false
		}
		if s, isStr := val.(string); isStr {
			switch s {
			case "", "NA", "N/A", "null":
				return false
			}
		}
		return true
	}
}

func apiOK(v template.Values) bool {
	val, ok := v.Lookup("api_status_code")
	if !ok {
		return false
	}
	if n, isInt := val.(int); isInt {
		return n == 200
	}
	if f, isFloat := val.(float64); isFloat {
		return int(f) == 200
	}
	return false
}

func apiFailed(v template.Values) bool {
	val, ok := v.Lookup("api_status_code")
	if ok {
		if n, isInt := val.(int); isInt && n != 0 && n != 200 {
			return true
		}
		if f, isFloat := val.(float64); isFloat && f != 0 && int(f) != 200 {
			return true
		}
	}
	return True("api_error")(v)
}

// GlobalRules are checked on every turn, before the current node's rules.
// They cover escalations the borrower can raise at any point.
func GlobalRules() []Rule {
	return []Rule{
		{"live agent requested", True("user_requests_live_agent"), NodeTransferIntake},
		{"supervisor requested", True("user_requests_supervisor"), NodeTransferIntake},
		{"transfer requested", True("user_requests_transfer"), NodeTransferIntake},
		{"attorney mentioned", True("user_mentions_attorney"), NodeAttorney},
		{"represented by attorney", True("user_represented_by_attorney"), NodeAttorney},
		{"cease communication", True("user_requests_cease_communication"), NodeCeaseDesist},
		{"written only", True("user_requests_written_only"), NodeCeaseDesist},
		{"wrong number", True("user_says_wrong_number"), NodeWrongNumber},
		{"wrong person", True("wrong_person"), NodeWrongNumber},
		{"complex question", True("user_has_complex_question"), NodeTransferIntake},
		{"nsf question", True("user_asks_about_nsf"), NodeTransferIntake},
		{"escrow question", True("user_asks_about_escrow"), NodeTransferIntake},
	}
}

// NodeRules is the per-node transition table for the collections flow.
func NodeRules() map[string][]Rule {
	return map[string][]Rule{
		NodeGreeting: {
			{"identity confirmed", Any(True("is_borrower"), True("confirmed_identity")), NodeDOBFirst},
			{"got party name", True("party_name"), NodeDOBFirst},
			{"speaking to borrower", True("speaking_to_borrower"), NodeDOBFirst},
			{"borrower not available", True("user_not_available"), NodeCallback},
			{"call back later", True("call_back_later"), NodeCallback},
		},
		NodeDOBFirst: {
			{"too many dob attempts", AtLeast("dob_attempts", dobAttemptCeiling), NodeTransferIntake},
			{"dob verified", True("dob_verified"), NodeMiniMiranda},
			{"dob correct", True("dob_correct"), NodeMiniMiranda},
			{"dob mismatch", True("dob_mismatch"), NodeDOBMismatch},
			{"dob incorrect", True("dob_incorrect"), NodeDOBMismatch},
		},
		NodeDOBMismatch: {
			{"second dob attempt", Always(), NodeDOBSecond},
		},
		NodeDOBSecond: {
			{"too many dob attempts", AtLeast("dob_attempts", dobAttemptCeiling), NodeTransferIntake},
			{"dob verified", Any(True("dob_verified"), True("dob_reconfirmed")), NodeMiniMiranda},
			{"dob correct", True("dob_correct"), NodeMiniMiranda},
			{"dob still wrong", Any(True("dob_still_wrong"), True("dob_mismatch")), NodeDOBFailed},
		},
		NodeDOBFailed: {
			{"verification failed", Always(), End},
		},
		NodeMiniMiranda: {
			{"disclosure complete", True("mini_miranda_complete"), NodeOccupancy},
			{"user acknowledged", True("user_acknowledges"), NodeOccupancy},
			{"ready to proceed", True("proceed_to_business"), NodeOccupancy},
		},
		NodeOccupancy: {
			{"occupancy value", Present("occupancy"), NodeDisasterCheck},
			{"occupancy verified", True("occupancy_verified"), NodeDisasterCheck},
			{"occupancy confirmed", True("occupancy_confirmed"), NodeDisasterCheck},
			{"occupancy status", True("occupancy_status"), NodeDisasterCheck},
		},
		NodeDisasterCheck: {
			{"disaster affected", True("affected_by_disaster"), NodeLossMitigation},
			{"disaster impact", True("disaster_impact"), NodeLossMitigation},
			{"explicitly not affected", IsFalse("affected_by_disaster"), NodeContinue},
			{"not affected", True("not_affected_by_disaster"), NodeContinue},
			{"no impact", True("no_disaster_impact"), NodeContinue},
		},
		NodeContinue: {
			{"continue to payment", Always(), NodePaymentCollect},
		},
		NodeLossMitigation: {
			{"wants appointment", True("wants_appointment"), NodeApptSchedule},
			{"schedule appointment", True("schedule_appointment"), NodeApptSchedule},
			{"wants callback", True("wants_callback"), NodeCallback},
			{"wants to end call", True("user_wants_to_end_call"), NodeEndStandard},
		},
		NodePaymentCollect: {
			{"claims already paid", True("user_claims_payment_made"), NodeConfirmation},
			{"payment already sent", True("payment_already_sent"), NodeConfirmation},
			{"set up later", True("user_wants_set_up_later"), NodeConfirmation},
			{"declined setup today", True("declined_bank_account_setup_today"), NodeConfirmation},
			{"will pay independently", True("will_pay_independently"), NodeConfirmation},
			{"date and amount received", All(True("payment_date_received"), True("payment_amount_received")), NodePaymentValidate},
			{"amount and extracted date", All(True("user_provided_payment_amount"), True("upd_extracted_payment_date")), NodePaymentValidate},
			{"amount after waterfall", All(True("payment_amount_received"), True("collection_waterfall_completed"), True("total_amount_due_informed")), NodePaymentValidate},
			{"wants options", All(True("borrower_wants_options"), True("options_question_asked")), NodePaymentOptions},
			{"requests options directly", True("borrower_requests_options_directly"), NodePaymentOptions},
			{"needs assistance", All(True("needs_assistance"), True("options_question_asked")), NodePaymentOptions},
			{"financial hardship", All(True("financial_hardship"), True("options_question_asked")), NodePaymentOptions},
			{"capture delinquency reason", True("capture_delinquency_reason"), NodeDelinquency},
		},
		NodeDelinquency: {
			{"reason captured", Any(True("reason_captured"), True("delinquency_reason")), NodePaymentCollect},
		},
		NodePaymentValidate: {
			{"asks about options", True("borrower_requests_options_directly"), NodePaymentOptions},
			{"amount and date confirmed", All(Present("user_provided_payment_amount"), Present("user_provided_payment_date")), NodeAccountCollect},
			{"validation confirmed", True("validation_confirmed"), NodeAccountCollect},
			{"amount confirmed", True("user_confirms_amount"), NodeAccountCollect},
			{"details confirmed", True("details_confirmed"), NodeAccountCollect},
			{"change amount", True("user_wants_to_change_amount"), NodePaymentCollect},
			{"change date", True("user_wants_to_change_date"), NodePaymentCollect},
		},
		NodeAccountCollect: {
			{"declined setup today", True("declined_bank_account_setup_today"), NodeConfirmation},
			{"set up later", True("user_wants_set_up_later"), NodeConfirmation},
			{"will pay online", True("will_pay_online"), NodeConfirmation},
			{"will mail check", True("will_mail_check"), NodeConfirmation},
			{"existing account confirmed", True("existing_bank_account_confirmed"), NodeNACHA},
			{"new account confirmed", True("new_bank_account_confirmed"), NodeNACHA},
			{"account ready", True("account_ready"), NodeNACHA},
			{"certified funds date confirmed", True("certified_funds_mail_date_confirmed"), NodeCertifiedFunds},
			{"restricted draft mail date", All(Equals("RestrictAutoPayDraft", "Y"), True("mail_date_confirmed")), NodeCertifiedFunds},
		},
		NodeNACHA: {
			{"user declined", True("user_says_no"), NodePaymentCollect},
			{"authorization declined", True("user_declines_authorization"), NodePaymentCollect},
			{"change amount or date", True("user_wants_to_change_amtdate"), NodePaymentCollect},
			{"different amount", True("user_wants_different_amount"), NodePaymentCollect},
			{"permission granted", True("nacha_permission_granted"), NodePaymentProcess},
			{"payment authorized", True("user_authorizes_payment"), NodePaymentProcess},
			{"authorization confirmed", True("user_confirms_authorization"), NodePaymentProcess},
		},
		NodePaymentProcess: {
			{"payment processed", True("payment_processed"), NodeConfirmation},
			{"api success", apiOK, NodeConfirmation},
			{"confirmation number", True("confirmation_number"), NodeConfirmation},
			{"api failed", apiFailed, NodeTransferIntake},
			{"payment failed", True("payment_failed"), NodeTransferIntake},
		},
		NodeConfirmation: {
			{"call complete", True("call_complete"), NodeEndStandard},
			{"no more questions", True("no_more_questions"), NodeEndStandard},
			{"user satisfied", True("user_satisfied"), NodeEndStandard},
			{"goodbye said", True("goodbye_said"), NodeEndStandard},
		},
		NodePaymentOptions: {
			{"no other questions", True("user_has_no_other_questions"), NodePaymentCollect},
			{"option selected", True("option_selected"), NodePaymentCollect},
			{"ready to pay", True("ready_to_pay"), NodePaymentCollect},
			{"wants appointment", True("wants_appointment"), NodeApptSchedule},
			{"schedule appointment", True("schedule_appointment"), NodeApptSchedule},
			{"wants callback", True("wants_callback"), NodeCallback},
			{"needs more time", True("needs_more_time"), NodeCallback},
		},
		NodeCertifiedFunds: {
			{"no other questions", True("user_has_no_other_questions"), NodeEndStandard},
			{"call complete", True("call_complete"), NodeEndStandard},
		},
		NodeTransferIntake: {
			{"intake complete", True("transfer_intake_complete"), NodeTransferConfirm},
			{"reason and ready", All(True("transfer_reason"), True("ready_to_transfer")), NodeTransferConfirm},
		},
		NodeTransferConfirm: {
			{"transfer confirmed", True("user_confirms_transfer"), NodeTransferExecute},
			{"proceed with transfer", True("proceed_with_transfer"), NodeTransferExecute},
			{"transfer cancelled", True("user_cancels_transfer"), NodePaymentCollect},
		},
		NodeTransferExecute: {
			{"transfer completed", True("transfer_completed"), NodeEndTransferDone},
		},
		NodeAttorney: {
			{"attorney noted", True("attorney_noted"), NodeEndStandard},
			{"end after notification", Always(), NodeEndStandard},
		},
		NodeCeaseDesist: {
			{"cease communication", Always(), NodeEndStandard},
		},
		NodeCallback: {
			{"callback time confirmed", True("callback_time_confirmed"), NodeCallbackDone},
			{"callback scheduled", True("callback_scheduled"), NodeCallbackDone},
			{"declined callback", True("user_declines_callback"), NodeEndStandard},
			{"no callback needed", True("no_callback_needed"), NodeEndStandard},
		},
		NodeCallbackDone: {
			{"callback confirmed", Always(), NodeEndStandard},
		},
		NodeApptSchedule: {
			{"time preference", True("user_time_preference"), NodeApptSlots},
			{"preferred day", True("preferred_day"), NodeApptSlots},
			{"preferred time", True("preferred_time"), NodeApptSlots},
		},
		NodeApptSlots: {
			{"slots received", apiOK, NodeApptOffer},
			{"slots available", True("slots_available"), NodeApptOffer},
			{"slots api error", True("api_error"), NodeTransferIntake},
		},
		NodeApptOffer: {
			{"time selected", True("specific_time_selected"), NodeApptConfirm},
			{"slot selected", True("user_selected_slot"), NodeApptConfirm},
			{"appointment conflict", True("user_appt_conflict"), NodeApptSchedule},
			{"none work", True("none_work"), NodeApptSchedule},
		},
		NodeApptConfirm: {
			{"appointment confirmed", True("appointment_confirmed"), NodeApptSuccess},
			{"appointment booked", True("appt_booked"), NodeApptSuccess},
			{"user cancels", True("user_cancels"), NodeApptSchedule},
		},
		NodeApptSuccess: {
			{"appointment done", Always(), NodeEndStandard},
		},
		NodeWrongNumber: {
			{"wrong number end", Always(), End},
		},
		NodeEndStandard:    {{"standard ending", Always(), End}},
		NodeEndAlternative: {{"alternative ending", Always(), End}},
		NodeEndTransferDone: {
			{"transfer complete ending", Always(), End},
		},
	}
}

// NodeDescription names what a node does, for logs and memos.
func NodeDescription(node string) string {
	if d, ok := nodeDescriptions[node]; ok {
		return d
	}
	return "Unknown Node (" + node + ")"
}

var nodeDescriptions = map[string]string{
	NodeGreeting:        "Greeting & Identity Confirmation",
	NodeDOBFirst:        "DOB Verification (Attempt 1)",
	NodeDOBMismatch:     "DOB Mismatch Notification",
	NodeDOBSecond:       "DOB Verification (Attempt 2)",
	NodeDOBFailed:       "DOB Failed - End Call",
	NodeMiniMiranda:     "Mini Miranda Disclosure",
	NodeOccupancy:       "Occupancy Verification",
	NodeDisasterCheck:   "Disaster Impact Check",
	NodeContinue:        "Continue to Payment",
	NodeLossMitigation:  "Loss Mitigation Discussion",
	NodePaymentCollect:  "Payment Collection",
	NodeDelinquency:     "Delinquency Reason Capture",
	NodePaymentValidate: "Payment Validation",
	NodeAccountCollect:  "Account Collection",
	NodeNACHA:           "NACHA Authorization",
	NodePaymentProcess:  "Payment Processing",
	NodeConfirmation:    "Confirmation / Promise to Pay",
	NodePaymentOptions:  "Payment Options",
	NodeCertifiedFunds:  "Certified Funds Confirmation",
	NodeTransferIntake:  "Transfer Intake",
	NodeTransferConfirm: "Transfer Confirmation",
	NodeTransferExecute: "Execute Transfer",
	NodeAttorney:        "Attorney Notification",
	NodeCeaseDesist:     "Cease & Desist",
	NodeCallback:        "Callback Offering",
	NodeCallbackDone:    "Callback Confirmed",
	NodeApptSchedule:    "Appointment Scheduling",
	NodeApptSlots:       "Fetch Available Slots",
	NodeApptOffer:       "Offer Time Slots",
	NodeApptConfirm:     "Confirm Appointment",
	NodeApptSuccess:     "Appointment Success",
	NodeWrongNumber:     "Wrong Number",
	NodeEndStandard:     "Call Ending (Standard)",
	NodeEndAlternative:  "Call Ending (Alternative)",
	NodeEndTransferDone: "Call Ending (Transfer Complete)",
	End:                 "Call Ended",
}

// Targets lists every node reachable in one step from node, including via
// global triggers.
func Targets(node string) []string {
	seen := make(map[string]struct{})
	for _, r := range GlobalRules() {
		seen[r.Target] = struct{}{}
	}
	for _, r := range NodeRules()[node] {
		seen[r.Target] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	return out
}
