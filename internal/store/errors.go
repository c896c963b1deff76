package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoDraft is returned when an operation needs a staged draft and the
// account has none.
var ErrNoDraft = errors.New("no draft staged")

// DraftConflictError is returned by StageDraft when the account already
// has a draft. The existing draft must be committed or discarded first.
type DraftConflictError struct {
	Account  string
	Existing ActionKind
	ID       string
}

func (e *DraftConflictError) Error() string {
	return fmt.Sprintf("account %s already has a staged %s draft (%s); commit or discard it first", e.Account, e.Existing, e.ID)
}

// IdentityNotFoundError reports shadow IDs that no longer resolve to a
// message on the server.
type IdentityNotFoundError struct {
	ShadowIDs []int64
}

func (e *IdentityNotFoundError) Error() string {
	ids := make([]string, len(e.ShadowIDs))
	for i, id := range e.ShadowIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	if len(ids) == 1 {
		return "message no longer available: " + ids[0]
	}
	return "messages no longer available: " + strings.Join(ids, ", ")
}
