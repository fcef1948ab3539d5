package config

// wireConfig is the raw YAML shape of the config file (spec §4.8/§6).
// Keys are camelCase on the wire.
type wireConfig struct {
	MountBase     *string          `yaml:"mountBase,omitempty"`
	UserMountBase *string          `yaml:"userMountBase,omitempty"`
	Excludes      []string         `yaml:"excludes,omitempty"`
	Options       *wireOptions     `yaml:"options,omitempty"`
	BackupDisks   []wireBackupDisk `yaml:"backupDisks"`
	Jobs          []wireJob        `yaml:"jobs"`
}

type wireOptions struct {
	ExcludePristine *bool    `yaml:"exclude-pristine,omitempty"`
	Cascade         *bool    `yaml:"cascade,omitempty"`
	Verbose         *bool    `yaml:"verbose,omitempty"`
	Safe            *bool    `yaml:"safe,omitempty"`
	Rsync           []string `yaml:"rsync,omitempty"`
}

type wireBackupDisk struct {
	DiskID       string  `yaml:"diskId"`
	FsUUID       string  `yaml:"fsUuid"`
	Label        *string `yaml:"label,omitempty"`
	MountOptions *string `yaml:"mountOptions,omitempty"`
}

type wireJob struct {
	Name     string   `yaml:"name"`
	Source   string   `yaml:"source"`
	Copies   int      `yaml:"copies"`
	Run      string   `yaml:"run,omitempty"`
	Excludes []string `yaml:"excludes,omitempty"`
	DiskIDs  []string `yaml:"diskIds,omitempty"`
}
