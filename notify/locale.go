package notify

import "fmt"

// Locale holds the wording of the notification mail.
type Locale struct {
	// Subject noun phrases for exactly one and for any other number of new
	// documents.
	SubjectOne   string
	SubjectOther string

	Greeting  string // receives the recipient name
	Intro     string
	Homepage  string // receives the page URL
	LastCheck string // receives the formatted time of the previous check
	Closing   string
	Signature string // optional line below the closing

	// Age phrases.
	New     string
	Today   string
	DayOne  string
	DayMany string // receives the number of days
	Unknown string
}

var locales = map[string]Locale{
	"de": {
		SubjectOne:   "neuer Gottesdienstplan",
		SubjectOther: "neue Gottesdienstpläne",
		Greeting:     "Hallo %s,",
		Intro:        "es wurden kürzlich neue Gottesdienstpläne online veröffentlicht.",
		Homepage:     "Direkt zur Homepage: %s",
		LastCheck:    "Letzte Überprüfung: %s",
		Closing:      "Viele Grüße",
		Signature:    "dein Raspberry Pi",
		New:          "NEU",
		Today:        "seit wenigen Stunden",
		DayOne:       "seit 1 Tag",
		DayMany:      "seit %d Tagen",
		Unknown:      "[???]",
	},
	"en": {
		SubjectOne:   "new service plan",
		SubjectOther: "new service plans",
		Greeting:     "Hello %s,",
		Intro:        "new service plans have recently been published online.",
		Homepage:     "Go to the homepage: %s",
		LastCheck:    "Last check: %s",
		Closing:      "Best regards",
		Signature:    "your Raspberry Pi",
		New:          "NEW",
		Today:        "a few hours ago",
		DayOne:       "1 day ago",
		DayMany:      "%d days ago",
		Unknown:      "[???]",
	},
}

// LookupLocale returns the built-in locale for the given language code.
func LookupLocale(lang string) (Locale, error) {
	l, ok := locales[lang]
	if !ok {
		return Locale{}, fmt.Errorf("unsupported language %q", lang)
	}
	return l, nil
}
