package subtitle

import "strings"

// languageNames maps ISO 639-1 codes (plus "fil") to display names
var languageNames = map[string]string{
	"af":  "Afrikaans",
	"am":  "Amharic",
	"ar":  "Arabic",
	"az":  "Azerbaijani",
	"be":  "Belarusian",
	"bg":  "Bulgarian",
	"bn":  "Bangla",
	"bs":  "Bosnian",
	"ca":  "Catalan",
	"cs":  "Czech",
	"cy":  "Welsh",
	"da":  "Danish",
	"de":  "German",
	"el":  "Greek",
	"en":  "English",
	"eo":  "Esperanto",
	"es":  "Spanish",
	"et":  "Estonian",
	"fa":  "Persian",
	"fi":  "Finnish",
	"fil": "Filipino",
	"fr":  "French",
	"ga":  "Irish",
	"gl":  "Galician",
	"gu":  "Gujarati",
	"he":  "Hebrew",
	"hi":  "Hindi",
	"hr":  "Croatian",
	"ht":  "Haitian Creole",
	"hu":  "Hungarian",
	"hy":  "Armenian",
	"id":  "Indonesian",
	"is":  "Icelandic",
	"it":  "Italian",
	"ja":  "Japanese",
	"jv":  "Javanese",
	"ka":  "Georgian",
	"kk":  "Kazakh",
	"km":  "Khmer",
	"kn":  "Kannada",
	"ko":  "Korean",
	"ku":  "Kurdish",
	"ky":  "Kyrgyz",
	"lo":  "Lao",
	"lt":  "Lithuanian",
	"lv":  "Latvian",
	"mk":  "Macedonian",
	"ml":  "Malayalam",
	"mn":  "Mongolian",
	"mr":  "Marathi",
	"ms":  "Malay",
	"my":  "Burmese",
	"ne":  "Nepali",
	"nl":  "Dutch",
	"no":  "Norwegian",
	"pa":  "Punjabi",
	"pl":  "Polish",
	"ps":  "Pashto",
	"pt":  "Portuguese",
	"ro":  "Romanian",
	"ru":  "Russian",
	"sd":  "Sindhi",
	"si":  "Sinhala",
	"sk":  "Slovak",
	"sl":  "Slovenian",
	"so":  "Somali",
	"sq":  "Albanian",
	"sr":  "Serbian",
	"su":  "Sundanese",
	"sv":  "Swedish",
	"sw":  "Swahili",
	"ta":  "Tamil",
	"te":  "Telugu",
	"tg":  "Tajik",
	"th":  "Thai",
	"tk":  "Turkmen",
	"tr":  "Turkish",
	"tt":  "Tatar",
	"ug":  "Uyghur",
	"uk":  "Ukrainian",
	"ur":  "Urdu",
	"uz":  "Uzbek",
	"vi":  "Vietnamese",
	"xh":  "Xhosa",
	"yi":  "Yiddish",
	"zh":  "Chinese",
	"zu":  "Zulu",
}

// LanguageName returns the display name for a language code, or the
// uppercased code when it is not in the table.
func LanguageName(code string) string {
	code = strings.ToLower(code)
	if name, ok := languageNames[code]; ok {
		return name
	}
	return strings.ToUpper(code)
}
