// File: internal/classifier/keywords.go

package classifier

// Keyword tables are ordered data, first match wins. They mirror the English
// and Turkish phrasing the portal actually emits; overlaps ("verification"
// appears in success phrasing and OTP hints) are resolved purely by cascade
// position, never inside a list.
type Keywords struct {
	Success          []string
	DuplicateAccount []string
	PasswordPolicy   []string
	FormValidation   []string
}

// DefaultKeywords returns the built-in tables. Callers may replace or extend
// individual lists before constructing the classifier.
func DefaultKeywords() Keywords {
	return Keywords{
		Success: []string{
			"almost done",
			"registration has been completed",
			"your registration has been completed",
			"we've sent you an email",
			"activate your account",
			"finish setting up",
			"verification",
			"verify your email",
			"check your email",
			"confirmation email",
			"email sent",
			"successfully registered",
			"registration successful",
			"account created",
			"account has been created",
			"dogrulama",
			"e-posta gonderildi",
			"please verify",
			"we have sent",
			"check your inbox",
			"please click on the link",
		},
		DuplicateAccount: []string{
			"email already registered",
			"email is already in use",
			"already exists",
			"already been registered",
			"email zaten kayitli",
			"bu e-posta",
			"account already exists",
			"this email",
			"email address is already",
			"user already exists",
			"duplicate",
		},
		PasswordPolicy: []string{
			"password must",
			"password should",
			"password requirements",
			"password policy",
			"too weak",
			"too short",
			"at least",
			"sifre gereksinimleri",
			"minimum",
			"uppercase",
			"lowercase",
			"special character",
		},
		FormValidation: []string{
			"mandatory field cannot be left blank",
			"mandatory field",
			"required field",
			"field cannot be left blank",
			"this field is required",
			"please fill",
		},
	}
}

// matchKeyword returns the first keyword contained in text (text must
// already be lowercased), "" when none.
func matchKeyword(text string, keywords []string) string {
	for _, k := range keywords {
		if k != "" && contains(text, k) {
			return k
		}
	}
	return ""
}
