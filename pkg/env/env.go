// Package env is a tiny helper for reading process environment
// variables before the typed config is loaded.
package env

import "os"

// Get reads key from the environment, falling back to def when the
// variable is unset or empty.
func Get(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
