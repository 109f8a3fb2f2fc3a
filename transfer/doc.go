// Package transfer implements the single-session upload/download state
// machine at the core of the file service.
//
// Exactly one Session exists for the lifetime of the service. It moves
// between three phases:
//
//	Idle ──StartUpload──▶ Uploading ──completion/fault──▶ Idle
//	Idle ──StartDownload─▶ Downloading ──FinishDownload──▶ Idle
//
// A new transfer can only start from Idle; Abort returns to Idle from
// any phase. The storage handle is open exactly while the phase is not
// Idle, and entering Idle always closes it first. Aborting an upload
// deletes the partial file; aborting a download leaves the source file
// untouched.
//
// Uploads left idle mid-transfer are evicted by CheckIdleTimeout after a
// configurable inactivity period, using the same TimeProvider seam the
// tests use for deterministic time.
package transfer
