package extractors

import "strings"

// ConfigString returns the trimmed string value for key from src.Config or a fallback.
func ConfigString(src Source, key, fallback string) string {
	if src.Config != nil {
		if raw, ok := src.Config[key]; ok {
			if val, ok := raw.(string); ok {
				if trimmed := strings.TrimSpace(val); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return fallback
}

const (
	ConfigUserAgentKey      = "user_agent"
	ConfigAcceptKey         = "accept"
	ConfigAcceptLanguageKey = "accept_language"
	ConfigCookieKey         = "cookie"
)

// Headers builds the request headers for a source (skips empty values).
// Accept-Language defaults to US English.
func Headers(src Source) map[string]string {
	headers := map[string]string{
		"Accept-Language": ConfigString(src, ConfigAcceptLanguageKey, "en-US,en;q=0.9"),
	}

	if v := ConfigString(src, ConfigUserAgentKey, ""); v != "" {
		headers["User-Agent"] = v
	}
	if v := ConfigString(src, ConfigAcceptKey, ""); v != "" {
		headers["Accept"] = v
	}
	if v := ConfigString(src, ConfigCookieKey, ""); v != "" {
		headers["Cookie"] = v
	}

	return headers
}
