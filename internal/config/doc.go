// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file and TASKENGINE_* environment variables.
// A Loader can also watch the file and report reloaded settings.
package config
