// Package schemasassets provides embedded JSON schemas for standalone binary
// behavior.
//
// Schemas are embedded at compile time so validation and tooling work
// regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// DestinationProfilesSchema is the embedded JSON schema for destination
// profile files, for operators validating their files before import.
//
//go:embed destination-profiles.schema.json
var DestinationProfilesSchema []byte
