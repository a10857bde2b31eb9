package utils

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the optional YAML config file merged under command-line flags.
type Profile struct {
	Connections int              `yaml:"connections"`
	Client      HTTPClientConfig `yaml:"client"`
}

func ReadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading profile file: %v", err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("error parsing profile file: %v", err)
	}
	return &profile, nil
}

// httpClientConfigYAML mirrors HTTPClientConfig with human-readable duration
// strings like "30s".
type httpClientConfigYAML struct {
	Timeout       string            `yaml:"timeout"`
	KATimeout     string            `yaml:"ka_timeout"`
	ProxyURL      string            `yaml:"proxy_url"`
	ProxyUsername string            `yaml:"proxy_username"`
	ProxyPassword string            `yaml:"proxy_password"`
	UserAgent     string            `yaml:"user_agent"`
	Headers       map[string]string `yaml:"headers"`
}

func (c *HTTPClientConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw httpClientConfigYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Timeout != "" {
		d, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %v", raw.Timeout, err)
		}
		c.Timeout = d
	}
	if raw.KATimeout != "" {
		d, err := time.ParseDuration(raw.KATimeout)
		if err != nil {
			return fmt.Errorf("invalid ka_timeout %q: %v", raw.KATimeout, err)
		}
		c.KATimeout = d
	}
	c.ProxyURL = raw.ProxyURL
	c.ProxyUsername = raw.ProxyUsername
	c.ProxyPassword = raw.ProxyPassword
	c.UserAgent = raw.UserAgent
	c.Headers = raw.Headers
	return nil
}
