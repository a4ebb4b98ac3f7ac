// Package directory stores users, groups, capabilities and group membership.
//
// Groups carry capabilities (codenames such as "cmsroles.user_setup"); users gain
// capabilities directly or through the groups they belong to. Groups materialized for a
// site-wide role record the site and base group they were derived from in DerivedFrom.
//
// Mutations announce themselves on the events.Registry passed to NewStore:
//
//	KindUser  PostSave                      user created or flags changed
//	KindUser  RelationChanged "groups"      membership changed
//	KindUser  RelationChanged "capabilities"
//	KindGroup PostSave                      group created or renamed
//	KindGroup PreDelete / PostDelete
//	KindGroup RelationChanged "capabilities"
//
// Every mutation and its handlers run in one transaction.
package directory
