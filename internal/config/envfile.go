package config

import (
	"os"
	"path/filepath"
)

// findEnvFile resolves the .env path to load, by directory-priority
// scan: an explicit override first, then the conventional system and
// per-user locations, finally the working directory. The first
// candidate that exists wins; if none exist, Load proceeds on process
// environment alone.
func findEnvFile() (string, bool) {
	if explicit := os.Getenv("SELFSTART_ENV_FILE"); explicit != "" {
		if fileExists(explicit) {
			return explicit, true
		}
	}
	candidates := []string{
		"/etc/selfstart/.env",
		"/data/.env",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".selfstart", ".env"))
	}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
