// Package fs provides the file system abstraction used by the database.
//
// Production code uses [Default] ([LocalFS]). Tests wrap it in [FaultyFS] to
// simulate write, sync, rename and remove failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".specs", fs.Fault{FailOnSync: true})
//
// Operations take no context.Context; local file calls are not interruptible.
package fs
