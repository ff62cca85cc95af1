package lib

import "net/mail"

// IsEmail reports whether str is a bare email address, without a display
// name or angle brackets.
func IsEmail(str string) bool {
	address, err := mail.ParseAddress(str)
	if err != nil {
		return false
	}
	return str == address.Address
}
