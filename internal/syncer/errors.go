package syncer

import "fmt"

// TransferError reports a failed transfer step and which side of the
// channel it failed on, so reruns know where to look.
type TransferError struct {
	// Side is "local" or "remote".
	Side string
	// Op names the failed step (plan, mkdir, rsync, archive, rclone).
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("sync %s failed on %s side: %v", e.Op, e.Side, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
