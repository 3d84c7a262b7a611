package catalog

import "strings"

const (
	registrationCodePrefix = "REG-"
	registrationKeyword    = "REGISTRATION"
)

// IsRegistrationClass reports whether a service is administrative rather than
// clinical. Such services can be ordered before any consultation exists and their
// orders never reference one.
func IsRegistrationClass(e *Entry) bool {
	if e == nil {
		return false
	}
	if strings.HasPrefix(strings.ToUpper(e.Code), registrationCodePrefix) {
		return true
	}
	return strings.Contains(strings.ToUpper(e.Name), registrationKeyword) ||
		strings.Contains(strings.ToUpper(e.Description), registrationKeyword)
}
