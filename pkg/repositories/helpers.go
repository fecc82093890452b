package repositories

// nullString returns nil if the string is empty, otherwise returns the string pointer.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// stringValue dereferences a nullable column, mapping NULL to "".
func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
