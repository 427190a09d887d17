package script

import (
	"strings"
)

// Lang selects a phrase table.
type Lang string

const (
	LangHindi   Lang = "hi"
	LangEnglish Lang = "en"
)

// DefaultLang is used when a call is created without an explicit language.
const DefaultLang = LangHindi

// PhraseKey names a prompt in the phrase tables.
type PhraseKey string

const (
	PhraseGreetingOrderConfirmation PhraseKey = "greeting_order_confirmation"
	PhraseGreetingPrepTime          PhraseKey = "greeting_prep_time"
	PhraseGreetingRiderAssignment   PhraseKey = "greeting_rider_assignment"
	PhraseGreetingRiderPickupReady  PhraseKey = "greeting_rider_pickup_ready"
	PhrasePrepTimeQuery             PhraseKey = "prep_time_query"
	PhraseReasonQuery               PhraseKey = "reason_query"
	PhraseAccepted                  PhraseKey = "accepted"
	PhraseRejected                  PhraseKey = "rejected"
	PhrasePrepTimeSet               PhraseKey = "prep_time_set"
	PhraseNoInput                   PhraseKey = "no_input"
	PhraseInvalidInput              PhraseKey = "invalid_input"
	PhraseGoodbye                   PhraseKey = "goodbye"
	PhraseUnknownCall               PhraseKey = "unknown_call"
)

// Vars carries template values for phrase rendering. Placeholders use
// {name} syntax, e.g. "order {order_id}".
type Vars map[string]string

var hindiPhrases = map[PhraseKey]string{
	PhraseGreetingOrderConfirmation: "नमस्ते, Mangwale से कॉल है। ऑर्डर नंबर {order_id}, कुल {amount} रुपये। ऑर्डर स्वीकार करने के लिए 1 दबाएं, अस्वीकार करने के लिए 0 दबाएं।",
	PhraseGreetingPrepTime:          "नमस्ते, ऑर्डर नंबर {order_id} तैयार होने में कितना समय लगेगा? 15 मिनट के लिए 1, 30 मिनट के लिए 2, 45 मिनट के लिए 3 दबाएं।",
	PhraseGreetingRiderAssignment:   "नमस्ते, आपको नई डिलीवरी मिली है। ऑर्डर नंबर {order_id}। स्वीकार करने के लिए 1 दबाएं, अस्वीकार करने के लिए 0 दबाएं।",
	PhraseGreetingRiderPickupReady:  "नमस्ते, ऑर्डर नंबर {order_id} पिकअप के लिए तैयार है। पुष्टि करने के लिए 1 दबाएं, देरी के लिए 0 दबाएं।",
	PhrasePrepTimeQuery:             "धन्यवाद। ऑर्डर तैयार होने में कितना समय लगेगा? 15 मिनट के लिए 1, 30 मिनट के लिए 2, 45 मिनट के लिए 3 दबाएं।",
	PhraseReasonQuery:               "कृपया कारण बताएं। आइटम उपलब्ध नहीं है तो 1, बहुत व्यस्त हैं तो 2, दुकान बंद है तो 3 दबाएं।",
	PhraseAccepted:                  "धन्यवाद, ऑर्डर स्वीकार कर लिया गया है।",
	PhraseRejected:                  "ठीक है, ऑर्डर अस्वीकार कर दिया गया है। धन्यवाद।",
	PhrasePrepTimeSet:               "धन्यवाद, {prep_minutes} मिनट नोट कर लिया गया है। शुभ दिन।",
	PhraseNoInput:                   "कोई इनपुट नहीं मिला। धन्यवाद।",
	PhraseInvalidInput:              "माफ़ कीजिए, यह विकल्प मान्य नहीं है। कृपया फिर से दबाएं।",
	PhraseGoodbye:                   "धन्यवाद, शुभ दिन।",
	PhraseUnknownCall:               "माफ़ कीजिए, यह कॉल अब सक्रिय नहीं है। धन्यवाद।",
}

var englishPhrases = map[PhraseKey]string{
	PhraseGreetingOrderConfirmation: "Hello, this is a call from Mangwale. Order number {order_id}, total {amount} rupees. Press 1 to accept the order, press 0 to reject.",
	PhraseGreetingPrepTime:          "Hello, how long will order number {order_id} take to prepare? Press 1 for 15 minutes, 2 for 30 minutes, 3 for 45 minutes.",
	PhraseGreetingRiderAssignment:   "Hello, you have a new delivery. Order number {order_id}. Press 1 to accept, press 0 to decline.",
	PhraseGreetingRiderPickupReady:  "Hello, order number {order_id} is ready for pickup. Press 1 to confirm, press 0 if you are delayed.",
	PhrasePrepTimeQuery:             "Thank you. How long will the order take to prepare? Press 1 for 15 minutes, 2 for 30 minutes, 3 for 45 minutes.",
	PhraseReasonQuery:               "Please tell us why. Press 1 if the item is unavailable, 2 if you are too busy, 3 if the shop is closed.",
	PhraseAccepted:                  "Thank you, the order has been accepted.",
	PhraseRejected:                  "Okay, the order has been rejected. Thank you.",
	PhrasePrepTimeSet:               "Thank you, {prep_minutes} minutes noted. Have a good day.",
	PhraseNoInput:                   "No input received. Thank you.",
	PhraseInvalidInput:              "Sorry, that is not a valid option. Please try again.",
	PhraseGoodbye:                   "Thank you, have a good day.",
	PhraseUnknownCall:               "Sorry, this call is no longer active. Thank you.",
}

// Phrase returns the raw template for key in lang, falling back to English
// when the key is missing from the requested table.
func Phrase(lang Lang, key PhraseKey) string {
	if lang == LangHindi {
		if p, ok := hindiPhrases[key]; ok {
			return p
		}
	}
	return englishPhrases[key]
}

// Render returns the phrase with {name} placeholders substituted from vars.
// Unmatched placeholders are left in place so a missing value is visible in
// logs instead of silently dropped.
func Render(lang Lang, key PhraseKey, vars Vars) string {
	tmpl := Phrase(lang, key)
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for name, val := range vars {
		pairs = append(pairs, "{"+name+"}", val)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// GreetingKey returns the opening phrase for a call type.
func GreetingKey(t CallType) PhraseKey {
	switch t {
	case CallTypeVendorPrepTime:
		return PhraseGreetingPrepTime
	case CallTypeRiderAssignment:
		return PhraseGreetingRiderAssignment
	case CallTypeRiderPickupReady:
		return PhraseGreetingRiderPickupReady
	default:
		return PhraseGreetingOrderConfirmation
	}
}

// ParseLang normalizes a language hint, defaulting to Hindi.
func ParseLang(s string) Lang {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "en", "english", "en-in":
		return LangEnglish
	case "hi", "hindi", "hi-in", "":
		return LangHindi
	default:
		return DefaultLang
	}
}
