package parcel

import "github.com/rotisserie/eris"

// Error taxonomy for the pipeline. Geometry defects are recovered locally;
// refresh and ledger failures always surface to the caller.
var (
	// ErrInvalidGeometry marks a malformed or self-intersecting input
	// polygon. Derivation skips the affected building part and continues.
	ErrInvalidGeometry = eris.New("parcel: invalid geometry")

	// ErrRefreshInProgress rejects a second concurrent refresh request for
	// the same snapshot. Requests are never queued.
	ErrRefreshInProgress = eris.New("parcel: refresh already in progress")

	// ErrRefreshFailed reports that both the concurrent and blocking refresh
	// paths failed. The snapshot remains in its last fresh state.
	ErrRefreshFailed = eris.New("parcel: refresh failed")

	// ErrMigrationConflict reports two unreconciled ledger branch heads.
	// Apply is refused until a merge step exists.
	ErrMigrationConflict = eris.New("parcel: migration conflict")

	// ErrIrreversibleStep reports a revert crossing an apply-only step.
	ErrIrreversibleStep = eris.New("parcel: irreversible migration step")
)
