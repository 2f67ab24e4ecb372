package config

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// defaultDotEnvPaths is what local development uses; .env.local overrides
// nothing because earlier files and the process environment win.
var defaultDotEnvPaths = []string{".env", ".env.local"}

// LoadDotEnv loads environment variables from .env-like files so the API
// can run locally without exporting a dozen variables by hand. Variables
// already present in the process environment keep precedence, and missing
// files are skipped. With no arguments it reads the default paths.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = defaultDotEnvPaths
	}
	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed == "" {
			continue
		}
		if err := loadDotEnvFile(trimmed); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func loadDotEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Files copy-pasted from shell sessions tend to carry "export".
		if rest, ok := strings.CutPrefix(line, "export "); ok {
			line = strings.TrimSpace(rest)
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, unquoteDotEnvValue(value))
	}
	return scanner.Err()
}

// unquoteDotEnvValue strips surrounding quotes. Double quotes get the usual
// escapes expanded; single quotes are literal; unquoted values lose any
// trailing " # comment".
func unquoteDotEnvValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	if quote := trimmed[0]; quote == '"' || quote == '\'' {
		if len(trimmed) >= 2 && trimmed[len(trimmed)-1] == quote {
			unquoted := trimmed[1 : len(trimmed)-1]
			if quote == '"' {
				replacer := strings.NewReplacer(
					`\\`, `\`,
					`\n`, "\n",
					`\r`, "\r",
					`\t`, "\t",
					`\"`, `"`,
				)
				return replacer.Replace(unquoted)
			}
			return unquoted
		}
	}

	if index := strings.Index(trimmed, " #"); index >= 0 {
		return strings.TrimSpace(trimmed[:index])
	}
	return trimmed
}
