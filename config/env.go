package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Env looks up environment variables.
type Env func(key string) (string, bool)

// OSEnv reads the process environment.
var OSEnv Env = os.LookupEnv

// MapEnv returns an Env backed by m.
func MapEnv(m map[string]string) Env {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// String returns the value of key or def.
func (e Env) String(key, def string) string {
	if v, ok := e(key); ok {
		return v
	}
	return def
}

// Duration parses key as a time.Duration.
func (e Env) Duration(key string, def time.Duration) (time.Duration, error) {
	if v, ok := e(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return d, nil
	}
	return def, nil
}

// Bool parses key as a boolean.
func (e Env) Bool(key string, def bool) (bool, error) {
	if v, ok := e(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s: %w", key, err)
		}
		return b, nil
	}
	return def, nil
}

// Int parses key as an integer.
func (e Env) Int(key string, def int) (int, error) {
	if v, ok := e(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", key, err)
		}
		return i, nil
	}
	return def, nil
}
