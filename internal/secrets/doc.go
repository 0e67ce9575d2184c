// Package secrets detects and redacts credentials in free text.
//
// The proxy passes every stderr line of its child through a Scrubber before
// logging it, and the stdio server can scrub file resource text when
// server.scrub_file_secrets is enabled. Results keep rule IDs and counts so
// callers can log what was redacted without logging the value.
//
// Two scanners implement Scrubber: New builds a fast regex scanner from
// DefaultRules, and NewGitleaks wraps the gitleaks default rule set with an
// optional TOML allowlist.
package secrets
