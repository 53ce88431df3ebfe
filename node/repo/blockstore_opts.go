package repo

import (
	"os"
	"strconv"

	badgerbs "github.com/ursa-network/ursa/blockstore/badger"
)

// BadgerBlockstoreOptions returns the badger options for the content store
// at path.
func BadgerBlockstoreOptions(path string, readonly bool) (badgerbs.Options, error) {
	opts := badgerbs.DefaultOptions(path)

	opts.Prefix = "/blocks/"

	// Blocks are immutable; therefore we do not expect any conflicts to
	// emerge.
	opts.DetectConflicts = false

	// This is to optimize the database on close so it can be opened
	// read-only and efficiently queried.
	opts.CompactL0OnClose = true

	// The alternative is "crash on start and tell the user to fix it". This
	// will truncate corrupt and unsynced data, which we don't guarantee to
	// persist anyways. Lost blocks are fetched again on demand.
	opts.Truncate = true

	// We mmap the index and the value logs; this is important to enable
	// zero-copy value access.
	opts.ValueLogLoadingMode = badgerbs.MemoryMap
	opts.TableLoadingMode = badgerbs.MemoryMap

	// Embed only values < 128 bytes in the LSM tree; larger values are stored
	// in value logs.
	opts.ValueThreshold = 128

	opts.MaxTableSize = 64 << 20

	opts.ReadOnly = readonly

	// Envvar URSA_BADGERSTORE_COMPACTIONWORKERNUM
	// Unset - leaves the default number of compaction workers (4)
	// "0" - disables compaction
	// Positive integer - enables that number of compaction workers
	if n, set := os.LookupEnv("URSA_BADGERSTORE_COMPACTIONWORKERNUM"); set {
		if numWorkers, err := strconv.Atoi(n); err == nil && numWorkers >= 0 {
			opts.NumCompactors = numWorkers
		}
	}

	return opts, nil
}
