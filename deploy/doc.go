/*
Package deploy implements the deploy workflow of the repository server.

A deploy runs these steps, in order, without retries and without any
cross-request lock:

 1. resolve the repository (NotFound if unknown)
 2. check that deploys are enabled (PolicyDenied)
 3. check that the storage is not full (CapacityExceeded)
 4. map the coordinate to a storage path (InvalidPath on traversal)
 5. invalidate the index documents of the target directory and its parent
 6. write the content, or regenerate the index when the target is itself an index document
 7. convert panics and unclassified errors into BackendFailure
 8. record an audit entry

Audit records go to the structured log (LogAuditSink) or to a SQLite
database (SQLiteAuditSink). Audit failures never fail a deploy.
*/
package deploy
