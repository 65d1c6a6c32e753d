package pagination

// ExtractItems normalizes a decoded JSON body into its list of items.
//
// A top-level array is returned as is with nil meta. An object whose "items"
// field is an array (the search API envelope) yields that array, with the whole
// object as meta. Anything else yields an empty slice and nil meta.
func ExtractItems(payload any) (items []any, meta map[string]any) {
	switch body := payload.(type) {
	case []any:
		return body, nil
	case map[string]any:
		if list, ok := body["items"].([]any); ok {
			return list, body
		}
	}
	return []any{}, nil
}
