package config

import "os"

// ExpandEnv expands ${VAR} and $VAR references in raw YAML content
// before parsing, so secrets stay in the environment rather than the
// config file. Missing variables expand to the empty string; required
// fields that end up empty are caught by validation.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
