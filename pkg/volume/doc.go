/*
Package volume manages the local disk workspace a sandboxed build
extracts its build context into: one directory per build ID, created
immediately before extraction and removed unconditionally once the
build exits, success or failure alike.

	driver, err := volume.NewLocalDriver("")
	path, err := driver.Create(buildID)
	defer driver.Delete(buildID)
	// extract build context into path, then hand it to pkg/runtime

There is exactly one driver because a build sandbox never outlives the
node it ran on; there is no volume concept to persist or share across
nodes.
*/
package volume
