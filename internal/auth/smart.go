package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// smartConfigPath is the well-known location of the SMART configuration
// document, relative to the FHIR base URL.
const smartConfigPath = ".well-known/smart-configuration"

// smartConfiguration is the subset of the SMART discovery document the
// client consumes.
type smartConfiguration struct {
	TokenEndpoint string `json:"token_endpoint"`
}

// discoverTokenEndpoint fetches the SMART configuration for the FHIR
// endpoint and returns its token_endpoint.
func discoverTokenEndpoint(ctx context.Context, client *http.Client, fhirEndpoint string) (string, error) {
	configURL := strings.TrimRight(fhirEndpoint, "/") + "/" + smartConfigPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return "", fmt.Errorf("building SMART discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching SMART configuration from %s: %w", configURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching SMART configuration from %s: status %d", configURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading SMART configuration: %w", err)
	}

	var config smartConfiguration
	if err := json.Unmarshal(body, &config); err != nil {
		return "", fmt.Errorf("parsing SMART configuration: %w", err)
	}
	if config.TokenEndpoint == "" {
		return "", fmt.Errorf("SMART configuration at %s has no token_endpoint", configURL)
	}
	return config.TokenEndpoint, nil
}
