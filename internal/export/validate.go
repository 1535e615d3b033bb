package export

import (
	"fmt"
	"net/url"
	"sort"
)

// Violation is a single configuration validation failure.
type Violation struct {
	Path    string
	Message string
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// validate checks the whole client configuration in a single pass and
// returns every violation found, sorted by path. It performs no I/O.
func validate(c *Client) []Violation {
	var violations []Violation
	add := func(path, message string) {
		violations = append(violations, Violation{Path: path, Message: message})
	}

	if !isValidURL(c.FhirEndpointURL) {
		add("fhirEndpointUrl", "must be a valid URL")
	}
	if c.OutputDir == "" {
		add("outputDir", "must be supplied")
	}
	if c.Level.kind == levelGroup && c.Level.groupID == "" {
		add("level", "group ID must be supplied for a group-level export")
	}
	if len(c.Patients) > 0 && !c.Level.PatientSupported() {
		add("patient", fmt.Sprintf("not supported for a %s-level export", c.Level))
	}
	if c.MaxConcurrentDownloads < 1 {
		add("maxConcurrentDownloads", "must be at least 1")
	}
	if c.HTTPClient.RetryCount < 0 {
		add("httpClientConfig.retryCount", "must not be negative")
	}
	if c.HTTPClient.MaxConnectionsPerRoute < 1 {
		add("httpClientConfig.maxConnectionsPerRoute", "must be at least 1")
	}
	if c.Async.MaxTransientErrors < 0 {
		add("asyncConfig.maxTransientErrors", "must not be negative")
	}
	if c.Async.MinPollingDelay < 0 || c.Async.MaxPollingDelay < 0 {
		add("asyncConfig", "polling delays must not be negative")
	}

	if c.Auth.Enabled {
		if c.Auth.ClientID == "" {
			add("authConfig.clientId", "must be supplied if auth is enabled")
		}
		if c.Auth.ClientSecret == "" && c.Auth.PrivateKeyJWK == "" {
			add("authConfig", "either clientSecret or privateKeyJWK must be supplied if auth is enabled")
		}
		if !c.Auth.UseSMART && c.Auth.TokenEndpoint == "" {
			add("authConfig.tokenEndpoint", "must be supplied if SMART configuration is not used and auth is enabled")
		}
		if c.Auth.TokenExpiryTolerance < 0 {
			add("authConfig.tokenExpiryTolerance", "must not be negative")
		}
	}

	sortViolations(violations)
	return violations
}

// sortViolations orders violations by path, with the message as a
// tiebreaker. Sorting the rendered string instead would put "a.b: …" before
// "a: …".
func sortViolations(violations []Violation) {
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Path != violations[j].Path {
			return violations[i].Path < violations[j].Path
		}
		return violations[i].Message < violations[j].Message
	})
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
