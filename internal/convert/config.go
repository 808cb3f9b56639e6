package convert

// Config is the opaque per-job conversion configuration, passed
// verbatim from the submission request. Unknown keys are ignored.
//
// Recognized keys:
//   - delimiter: CSV delimiter, single character (default ",")
//   - fields:    list of field names overriding the header row
//   - headers:   include a CSV header row (default true)
//   - array:     force JSON array output even for a single record
type Config map[string]any

// Delimiter returns the configured CSV delimiter rune.
func (c Config) Delimiter() rune {
	if c == nil {
		return ','
	}
	s, ok := c["delimiter"].(string)
	if !ok || s == "" {
		return ','
	}
	return []rune(s)[0]
}

// Fields returns the configured field list, if present. JSON decoding
// produces []any, so both that and []string are accepted.
func (c Config) Fields() ([]string, bool) {
	if c == nil {
		return nil, false
	}
	switch v := c["fields"].(type) {
	case []string:
		if len(v) == 0 {
			return nil, false
		}
		return v, true
	case []any:
		if len(v) == 0 {
			return nil, false
		}
		fields := make([]string, 0, len(v))
		for _, f := range v {
			s, ok := f.(string)
			if !ok {
				return nil, false
			}
			fields = append(fields, s)
		}
		return fields, true
	}
	return nil, false
}

// IncludeHeaders reports whether a CSV header row should be written.
func (c Config) IncludeHeaders() bool {
	if c == nil {
		return true
	}
	if v, ok := c["headers"].(bool); ok {
		return v
	}
	return true
}

// ForceArray reports whether a single record must still be emitted as a
// one-element JSON array instead of a lone object.
func (c Config) ForceArray() bool {
	if c == nil {
		return false
	}
	v, ok := c["array"].(bool)
	return ok && v
}
