package lessweb

// SelfValidator is implemented by record types that validate themselves
// after their fields have been decoded and their constraint tags checked.
type SelfValidator interface {
	Validate() error
}
