package devenv

// CcrTestConfig is read from dev/.state/ccr_config.json5, it points the live tests at a real CCR
// instance.
//
// The mutating live tests only run when `target_package` is set, they vote, notify and flag it
// and restore its original state afterwards.
type CcrTestConfig struct {
	BaseUrl       string `json:"base_url"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	SearchTerm    string `json:"search_term"`
	KnownPackage  string `json:"known_package"`
	TargetPackage string `json:"target_package"`
	DumpDir       string `json:"dump_dir"`
}

const CcrTestConfigFile = "ccr_config.json5"

const CcrTestConfigTemplate = `{
	// base url of the ccr instance, ex. "http://chakra-project.org/ccr/". the live tests are
	// skipped while it is empty
	base_url: "",
	username: "",
	password: "",
	search_term: "cdrtools",
	known_package: "cdrtools",
	// a package you maintain, leave empty to skip the mutating tests
	target_package: "",
	// "<dev_state>/ccr_messages" dumps every http exchange there
	dump_dir: "",
}
`
