package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// loadEnvFile reads an environment file and sets environment variables.
// It supports KEY=value, KEY="value", KEY='value' and a leading "export".
// Lines starting with # are treated as comments and ignored.
// Keys that are already set are left untouched.
func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid line %d: missing '=' separator", lineNum)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("invalid line %d: empty key", lineNum)
		}
		value = unquote(strings.TrimSpace(value))

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading env file: %w", err)
	}
	return nil
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' || first == '\'') && first == last {
			return value[1 : len(value)-1]
		}
	}
	return value
}
