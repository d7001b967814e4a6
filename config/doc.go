// Package config loads wasmbuild configuration.
//
// Configuration comes from a single YAML file named by the --config flag or
// the WASMBUILD_CONFIG environment variable. There is no automatic
// discovery: without either, the built-in defaults apply. Unknown keys are
// rejected so that a typo cannot silently change a reproducible build.
//
// Path values may reference ${VAR} or ${VAR:-default}; variables resolve
// against the process environment.
package config
