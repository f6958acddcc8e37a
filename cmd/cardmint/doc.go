// Command cardmint runs the scan intake worker and provides operator and
// maintenance commands over the job store.
//
// Most commands open the store directly, so they work whether or not a worker
// process is running; the store serializes concurrent writers. The worker and
// recover commands take the process lock so recovery never races a live pool.
package main
