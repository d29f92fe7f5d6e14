package errors

// Process exit codes
const (
	ExitOK         = 0
	ExitUnknown    = 1
	ExitConfig     = 2
	ExitAuth       = 3
	ExitUpstream   = 4
	ExitProcessing = 5
	ExitStorage    = 6
)

// ExitCode maps an error to the process exit status
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch TypeOf(err) {
	case ErrTypeConfig:
		return ExitConfig
	case ErrTypeAuth:
		return ExitAuth
	case ErrTypeRateLimit, ErrTypeNetwork, ErrTypeVendor:
		return ExitUpstream
	case ErrTypeProcessing:
		return ExitProcessing
	case ErrTypeStorage:
		return ExitStorage
	default:
		return ExitUnknown
	}
}
