package digest

import _ "embed"

//go:embed config.example.yaml
var ExampleConfig []byte
