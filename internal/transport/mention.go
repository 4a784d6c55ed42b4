package transport

// Mention renders a member reference the platform turns into a highlight when
// the text is delivered.
func Mention(memberID string) string { return "<@" + memberID + ">" }
