package bootstrap

// Stage is the position of a run in the provisioning state machine.
type Stage int

const (
	// StageInit is the state before any step ran.
	StageInit Stage = iota
	// StageEnvResolved means the environment was merged and validated.
	StageEnvResolved
	// StageBinariesProvisioned means every engine binary is present.
	StageBinariesProvisioned
	// StageVerified means the integrity checks passed or were disabled.
	StageVerified
	// StageCLIInstalled means the CLI tool is installed and smoke-tested.
	StageCLIInstalled
	// StageLaunched means the server was handed the process.
	StageLaunched
	// StageAborted is terminal; a step failed.
	StageAborted
)

// String returns the stage name used in logs.
func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageEnvResolved:
		return "env_resolved"
	case StageBinariesProvisioned:
		return "binaries_provisioned"
	case StageVerified:
		return "verified"
	case StageCLIInstalled:
		return "cli_installed"
	case StageLaunched:
		return "launched"
	case StageAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
