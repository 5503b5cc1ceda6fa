// Package maildir maps remote folder names onto a local Maildir++ store and
// writes messages into it.
//
// The store root is <root>/Maildir. The default inbox lives directly in the
// root, every other folder is flattened into a single dot-prefixed directory:
//
//	Maildir/
//	├── cur/ new/ tmp/ maildirfolder    # INBOX
//	└── .Work.Projects/
//	    ├── cur/ new/ tmp/
//	    └── maildirfolder
//
// Message files are named <unix-seconds>.<id>.<hostname>, where id comes from
// an IDGenerator shared by every folder of a run.
package maildir
