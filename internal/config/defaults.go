package config

const (
	defaultRunDir             = "."
	defaultStagingDir         = "temp"
	defaultLedgerDir          = "save"
	defaultLogDir             = "logs"
	defaultGameDir            = "~/TreeofSaviorJP"
	defaultToolPath           = "ipf_unpack"
	defaultKnownBinary        = "ipf_unpack"
	defaultPollIntervalMillis = 1000
	defaultKillGraceSeconds   = 5
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	journalFileName           = "journal.db"
	logFileName               = "tospatch.log"
)

var defaultSourceDirs = []string{"data", "patch"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RunDir:     defaultRunDir,
			StagingDir: defaultStagingDir,
			LedgerDir:  defaultLedgerDir,
			GameDir:    defaultGameDir,
			SourceDirs: append([]string(nil), defaultSourceDirs...),
			LogDir:     defaultLogDir,
		},
		Tool: Tool{
			KnownBinary:        defaultKnownBinary,
			PollIntervalMillis: defaultPollIntervalMillis,
			KillGraceSeconds:   defaultKillGraceSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
