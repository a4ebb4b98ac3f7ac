// Package cli provides the cmsroles maintenance command-line interface.
//
// # Commands
//
// migrate: Apply pending schema migrations
//
//	cmsroles migrate
//
// load-roles: Create or update roles from a YAML file
//
//	cmsroles load-roles -f roles.yaml
//
// The file lists roles by name with their base group, mode and flags:
//
//	roles:
//	  - name: editor
//	    group: editors
//	    permissions: [can_change, can_publish, can_view]
//	  - name: writer
//	    group: writers
//	    site_wide: false
//	    permissions: [can_add, can_change]
//
// With -watch the command keeps running and re-applies the file whenever it
// changes on disk.
//
// list-roles: Show every role
//
//	cmsroles list-roles [-json]
//
// grant / ungrant: Assign or remove a role for a user on a site. Sites are
// given by id or domain. Page-scoped roles accept explicit pages. With -actor
// the named user must administer the site.
//
//	cmsroles grant -role writer -user alice -site example.com -pages 12,14
//	cmsroles ungrant -role writer -user alice -site example.com -actor bob
//
// site-users, administered-sites: Topology queries
//
//	cmsroles site-users -site example.com
//	cmsroles administered-sites -user alice
//
// manage-page-permissions: Let a page-scoped role take over the unmanaged
// page permissions of its base group's members. Conflicts are printed to
// stderr.
//
//	cmsroles manage-page-permissions -role writer
//
// reconcile: Derive missing site grants, re-mirror derived groups and rewrite
// drifted flags. With -schedule it runs on a cron schedule until interrupted.
//
//	cmsroles reconcile
//	cmsroles reconcile -schedule "@every 1h"
//
// Configuration comes from CMSROLES_* environment variables, see package config.
package cli
