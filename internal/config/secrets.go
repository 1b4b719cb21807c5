package config

import (
	"github.com/kelseyhightower/envconfig"
)

// OAuthSecrets is the user-context credential quad the posting jobs need.
type OAuthSecrets struct {
	APIKey            string `envconfig:"X_API_KEY" required:"true"`
	APISecret         string `envconfig:"X_API_SECRET" required:"true"`
	AccessToken       string `envconfig:"X_ACCESS_TOKEN" required:"true"`
	AccessTokenSecret string `envconfig:"X_ACCESS_TOKEN_SECRET" required:"true"`

	// BearerToken is optional here; only search needs it.
	BearerToken string `envconfig:"X_BEARER_TOKEN"`
}

// SearchSecrets is the app-only credential the discovery job needs.
type SearchSecrets struct {
	BearerToken string `envconfig:"X_BEARER_TOKEN" required:"true"`
}

// LoadOAuthSecrets reads the posting credentials from the environment.
func LoadOAuthSecrets() (OAuthSecrets, error) {
	var s OAuthSecrets
	if err := envconfig.Process("", &s); err != nil {
		return OAuthSecrets{}, err
	}
	return s, nil
}

// LoadSearchSecrets reads the search credential from the environment.
func LoadSearchSecrets() (SearchSecrets, error) {
	var s SearchSecrets
	if err := envconfig.Process("", &s); err != nil {
		return SearchSecrets{}, err
	}
	return s, nil
}
