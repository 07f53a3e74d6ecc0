package main

// CLIResult is the top-level envelope for json and yaml output.
type CLIResult struct {
	Command string `json:"command" yaml:"command"`
	Results any    `json:"results" yaml:"results"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// CLIEndpoint is a registered endpoint.
type CLIEndpoint struct {
	Signature      string `json:"signature" yaml:"signature"`
	Identifier     string `json:"identifier" yaml:"identifier"`
	HasTestPlan    bool   `json:"has_test_plan" yaml:"has_test_plan"`
	HasPreferences bool   `json:"has_preferences" yaml:"has_preferences"`
}

// CLIEndpointGroup lists the endpoints whose handlers live in File.
type CLIEndpointGroup struct {
	File      string        `json:"file" yaml:"file"`
	Endpoints []CLIEndpoint `json:"endpoints" yaml:"endpoints"`
}

// CLIUpdate reports a registry write.
type CLIUpdate struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Field      string `json:"field" yaml:"field"`
}

// CLIDocument is a stored test plan or preference document. Value is nil
// when nothing has been stored.
type CLIDocument struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Field      string `json:"field" yaml:"field"`
	Value      any    `json:"value" yaml:"value"`
}
