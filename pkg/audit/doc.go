// Package audit records role lifecycle and assignment changes.
//
// Every mutating engine operation emits one Event: role creation, update,
// deletion and mode switches, grants and ungrants, and absorption of unmanaged
// page permissions. Events carry a UUID so they can be correlated across sinks.
//
//	logger := audit.NewMultiLogger(
//		audit.NewStructuredLogger(log),
//		audit.NewMemoryLogger(),
//	)
//	_ = logger.Log(ctx, audit.NewEvent(audit.EventTypeRoleGrant, role.ID, role.Name).ForUser(userID, siteID))
package audit
