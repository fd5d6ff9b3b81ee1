// Package config loads typed application configuration from the process
// environment.
//
// It wraps `github.com/caarlos0/env/v11` for struct tag parsing and
// `github.com/joho/godotenv` for optional `.env` files. Every configuration
// type is parsed once and cached by its type name, so packages can call
// Load for the same struct from different places without re-parsing.
//
// # Usage
//
//	type ClerkConfig struct {
//	    SecretKey string `env:"CLERK_SECRET_KEY,required"`
//	    Issuer    string `env:"CLERK_ISSUER,required"`
//	}
//
//	var cfg ClerkConfig
//	if err := config.Load(&cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// # Validation
//
// Types whose pointer implements Validator are checked right after parsing.
// Validation here is shallow: it rejects empty values that the `required`
// tag cannot express, such as fields needed only when a sibling field
// selects a particular driver.
//
// # Testing
//
// ResetCache drops every cached value so tests can change the environment
// with t.Setenv and load again.
package config
