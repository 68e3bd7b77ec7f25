// Package config loads the llmguard configuration with the priority
// chain defaults, then YAML file, then environment variables.
package config
