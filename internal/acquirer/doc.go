// Package acquirer fetches aggregate bars from Polygon.io.
//
// The Client wraps the official client-go SDK, which follows next_url
// pagination and retries transient failures itself. The acquirer adds
// request pacing, vendor error classification into the application error
// taxonomy, and tracing. Records are returned unmodified apart from moving
// timestamps to UTC and marking absent optional fields as nil.
package acquirer
