package env

import "os"

// GetOrDefault returns the value of the environment variable key, or def if it is unset or empty.
func GetOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
