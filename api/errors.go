package api

type ErrorCategory string
type ExitCode int

const (
	ExitSuccess                           = ExitCode(0)
	ExitUsage, ErrUsage                   = ExitCode(1), ErrorCategory("addongit-usage-error")     // Some piece of user input to a command was invalid and unrunnable.
	ExitPanic                             = ExitCode(2)                                            // Placeholder.  '2' happens when golang exits due to panic.
	ExitRepositoryIO, ErrRepositoryIO     = ExitCode(3), ErrorCategory("addongit-repository-io")   // Opening or initializing a repository failed at the filesystem level.
	ExitExtraction, ErrExtraction         = ExitCode(4), ErrorCategory("addongit-extraction")      // The archive could not be extracted (corrupt, unsupported, or escaping its destination).
	ExitStaging, ErrStaging               = ExitCode(5), ErrorCategory("addongit-staging")         // Hashing sandbox content or writing the tree failed.
	ExitCommitCreation, ErrCommitCreation = ExitCode(6), ErrorCategory("addongit-commit-creation") // Writing the commit object failed.
	ExitBranchConflict, ErrBranchConflict = ExitCode(7), ErrorCategory("addongit-branch-conflict") // Updating the branch pointer failed, or lost a compare-and-swap race.
	ExitSandboxCleanup, ErrSandboxCleanup = ExitCode(8), ErrorCategory("addongit-sandbox-cleanup") // Best-effort cleanup failed.  Logged; never returned from a materialize call.
	ExitCancelled, ErrCancelled           = ExitCode(9), ErrorCategory("addongit-cancelled")       // The operation timed out or was cancelled.
	ExitNotFound, ErrNotFound             = ExitCode(10), ErrorCategory("addongit-not-found")      // A branch, commit, or tree that was asked for does not exist.
	ExitTODO                              = ExitCode(254)                                          // This exit code should be replaced with something more specific.
)

// ExitCodeFor maps an error category to the exit code the CLI reports for it.
// Uncategorized errors map to ExitTODO.
func ExitCodeFor(category interface{}) ExitCode {
	switch category {
	case nil:
		return ExitSuccess
	case ErrUsage:
		return ExitUsage
	case ErrRepositoryIO:
		return ExitRepositoryIO
	case ErrExtraction:
		return ExitExtraction
	case ErrStaging:
		return ExitStaging
	case ErrCommitCreation:
		return ExitCommitCreation
	case ErrBranchConflict:
		return ExitBranchConflict
	case ErrSandboxCleanup:
		return ExitSandboxCleanup
	case ErrCancelled:
		return ExitCancelled
	case ErrNotFound:
		return ExitNotFound
	default:
		return ExitTODO
	}
}
