package negotiation

// IsPolite reports whether the local peer yields during glare. The peer whose
// identity sorts first (byte-wise) is polite, so for any two distinct
// identities exactly one side rolls back.
func IsPolite(local, remote string) bool {
	return local < remote
}
