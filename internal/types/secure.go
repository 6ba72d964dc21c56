package types

// redactedPlaceholder replaces secret values in logs and serialization.
const redactedPlaceholder = "***REDACTED***"

// redactedJSON is the pre-computed JSON encoding of the redacted placeholder.
var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString is a string type that prevents accidental logging or
// serialization of sensitive values (database DSNs, provider API keys, cron
// secrets). It overrides String() and MarshalJSON() to return a redacted
// placeholder so secrets never leak through fmt functions or JSON output.
//
// Use Unmask() to retrieve the raw plaintext value when it is genuinely
// needed (e.g., building an Authorization header or a pgx connection string).
type SecretString string

// String returns a redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value of the secret. Usage should be
// limited to call sites that hand the value to a client or driver.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether the secret carries a non-empty value. Optional
// integrations (email provider, copy provider, cron secret) key off this.
func (s SecretString) IsSet() bool {
	return s != ""
}
