package cmd

const (
	// ConfigFlag names the YAML configuration file.
	ConfigFlag = "config"
	// OutputFlag selects the output format of commands printing contributions.
	OutputFlag = "output"
	// FileFlag names the file holding the content of a contribution, "-" for stdin.
	FileFlag = "file"
	// DescriptionFlag sets the description of a contribution.
	DescriptionFlag = "description"
	// DisabledFlag excludes a contribution from being installed on start.
	DisabledFlag = "disabled"
)
