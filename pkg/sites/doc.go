// Package sites stores sites and their ordered page trees.
//
// Site creation dispatches (KindSite, PostSave) with Created set; deletion dispatches
// (KindSite, PreDelete) before the row is removed and (KindSite, PostDelete) after, inside
// the same transaction. Pages and permissions attached to a site are removed by cascade.
package sites
