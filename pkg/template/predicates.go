package template

import (
	"strconv"
	"strings"
	"time"
)

func lookupString(v Values, name string) string {
	val, ok := v.Lookup(name)
	if !ok || val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return stringify(val)
}

func lookupTrue(v Values, name string) bool {
	val, ok := v.Lookup(name)
	if !ok {
		return false
	}
	switch t := val.(type) {
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false") && t != "0"
	case int:
		return t != 0
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}

func lookupInt(v Values, name string) int {
	val, ok := v.Lookup(name)
	if !ok {
		return 0
	}
	switch t := val.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err == nil {
			return n
		}
	}
	return 0
}

func lookupFloat(v Values, name string) float64 {
	val, ok := v.Lookup(name)
	if !ok {
		return 0
	}
	switch t := val.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func language(v Values) string {
	if l := lookupString(v, "language"); l != "" {
		return l
	}
	return "en"
}

// paymentToday reports whether the captured payment date means "today",
// either literally or as a same-day phrase.
func paymentToday(v Values) bool {
	date := lookupString(v, "upd_extracted_payment_date")
	if date == "" {
		date = lookupString(v, "user_provided_payment_date")
	}
	if date == "" {
		return false
	}
	switch strings.ToLower(date) {
	case "today", "tonight", "end of day", "by the end of the day":
		return true
	}
	today := lookupString(v, "current_date")
	if today == "" {
		today = time.Now().UTC().Format("2006-01-02")
	}
	return date == today
}

// DefaultPredicates is the conditional tag registry the production node
// catalog references. Catalogs introducing new tags register their own on
// top of these.
func DefaultPredicates() map[string]Predicate {
	return map[string]Predicate{
		"en": func(v Values) bool { return language(v) == "en" },
		"es": func(v Values) bool { return language(v) == "es" },
		"english_examples": func(v Values) bool { return language(v) == "en" },
		"spanish_examples": func(v Values) bool { return language(v) == "es" },

		"loan_acct_available":   func(v Values) bool { return lookupString(v, "AccountNumberLastFour") != "" },
		"loan_acct_unavailable": func(v Values) bool { return lookupString(v, "AccountNumberLastFour") == "" },

		"upd_current_dated_payment": paymentToday,
		"upd_future_dated_payment":  func(v Values) bool { return !paymentToday(v) },

		"RestrictAutoPayDraft":   func(v Values) bool { return lookupString(v, "RestrictAutoPayDraft") == "Y" },
		"NoRestrictAutoPayDraft": func(v Values) bool { return lookupString(v, "RestrictAutoPayDraft") != "Y" },

		"days_late_leq_15": func(v Values) bool { return lookupInt(v, "DaysLate") <= 15 },
		"days_late_gt_15":  func(v Values) bool { return lookupInt(v, "DaysLate") > 15 },
		"days_late_gt_30":  func(v Values) bool { return lookupInt(v, "DaysLate") > 30 },
		"days_late_gt_45":  func(v Values) bool { return lookupInt(v, "DaysLate") > 45 },
		"days_late_leq_45": func(v Values) bool { return lookupInt(v, "DaysLate") <= 45 },

		"is_birthday":     func(v Values) bool { return lookupTrue(v, "is_birthday") },
		"is_anniversary":  func(v Values) bool { return lookupTrue(v, "is_anniversary") },
		"is_veteran":      func(v Values) bool { return lookupTrue(v, "is_veteran") },
		"not_birthday":    func(v Values) bool { return !lookupTrue(v, "is_birthday") },
		"not_anniversary": func(v Values) bool { return !lookupTrue(v, "is_anniversary") },

		"firstprompt": func(v Values) bool { return lookupInt(v, "prompt_count") == 0 },
		"reprompt":    func(v Values) bool { return lookupInt(v, "prompt_count") > 0 },

		"user_appt_conflict": func(v Values) bool { return lookupTrue(v, "appt_conflict") },
		"no_appt_conflict":   func(v Values) bool { return !lookupTrue(v, "appt_conflict") },

		"name_match":    func(v Values) bool { return lookupTrue(v, "name_match") },
		"name_no_match": func(v Values) bool { return !lookupTrue(v, "name_match") },

		"has_existing_account":   func(v Values) bool { return lookupString(v, "AccountNumberLastFour") != "" },
		"no_existing_account":    func(v Values) bool { return lookupString(v, "AccountNumberLastFour") == "" },
		"using_new_account":      func(v Values) bool { return lookupTrue(v, "new_bank_account_confirmed") },
		"using_existing_account": func(v Values) bool { return lookupTrue(v, "existing_bank_account_confirmed") },

		"payment_method_checking": func(v Values) bool { return lookupString(v, "new_account_payment_method") == "checking" },
		"payment_method_savings":  func(v Values) bool { return lookupString(v, "new_account_payment_method") == "savings" },

		"disaster_affected":     func(v Values) bool { return lookupTrue(v, "affected_by_disaster") },
		"not_disaster_affected": func(v Values) bool { return !lookupTrue(v, "affected_by_disaster") },

		"transfer_reason_provided": func(v Values) bool { return lookupString(v, "transfer_reason") != "" },

		"dob_attempt_1": func(v Values) bool { return lookupInt(v, "dob_attempts") == 1 },
		"dob_attempt_2": func(v Values) bool { return lookupInt(v, "dob_attempts") >= 2 },

		"has_fees": func(v Values) bool { return lookupFloat(v, "FeesBalance") > 0 },
		"no_fees":  func(v Values) bool { return lookupFloat(v, "FeesBalance") <= 0 },
	}
}
