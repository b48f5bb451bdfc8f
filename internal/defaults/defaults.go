// Package defaults provides the embedded example configuration written
// out by the tooledca init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte
