package leads

import (
	"errors"
	"regexp"
	"strings"
)

const MaxFieldLength = 1000

var (
	ErrInvalidName   = errors.New("please provide a valid name")
	ErrInvalidEmail  = errors.New("please provide a valid email address")
	ErrPersonalEmail = errors.New("please provide a business email address")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

var personalDomains = map[string]struct{}{
	"gmail.com":      {},
	"gmail.co.uk":    {},
	"yahoo.com":      {},
	"yahoo.co.uk":    {},
	"yahoo.co.in":    {},
	"ymail.com":      {},
	"hotmail.com":    {},
	"outlook.com":    {},
	"live.com":       {},
	"msn.com":        {},
	"aol.com":        {},
	"icloud.com":     {},
	"protonmail.com": {},
	"zoho.com":       {},
	"mail.com":       {},
}

var unsafeChars = strings.NewReplacer("<", "", ">", "", `"`, "", "'", "")

// Sanitize removes characters that could break out of HTML attributes, trims the
// result and caps it at MaxFieldLength characters.
func Sanitize(text string) string {
	text = strings.TrimSpace(unsafeChars.Replace(text))
	if r := []rune(text); len(r) > MaxFieldLength {
		text = string(r[:MaxFieldLength])
	}
	return text
}

func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

func IsBusinessEmail(email string) bool {
	if email == "" {
		return false
	}
	at := strings.LastIndex(email, "@")
	domain := strings.ToLower(email[at+1:])
	_, personal := personalDomains[domain]
	return !personal
}

// Validate checks the fields every lead form requires.
func Validate(name, email string) error {
	if len([]rune(strings.TrimSpace(name))) < 2 {
		return ErrInvalidName
	}
	if !ValidEmail(email) {
		return ErrInvalidEmail
	}
	if !IsBusinessEmail(email) {
		return ErrPersonalEmail
	}
	return nil
}
