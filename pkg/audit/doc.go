// Package audit records security audit entries.
//
// Every permission check and every hierarchy decision produces an Entry.
// Entries flow through a Recorder into a Sink:
//
//	sink := audit.NewMultiSink(dbSink, fileSink)
//	rec := audit.NewRecorder(sink, metrics.AuditFailuresTotal)
//	rec.Record(ctx, &audit.Entry{Action: audit.ActionPermissionCheck, Success: true})
//
// Recorder.Record has no error result. Sink failures are logged and counted
// so operators see them, but the decision being audited is never undone.
//
// # Sinks
//
//   - DBSink writes to security_audit_log and supports Search
//   - FileSink writes JSON lines and rotates by size
//   - MultiSink fans out to several sinks
//   - MemorySink keeps entries in memory
//   - S3Archiver uploads rotated files (wire it through FileSinkConfig.OnRotate)
package audit
