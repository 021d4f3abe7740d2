// Package chat holds the VOD chat model shared by the fetcher, the renderer and
// the archive pipeline.
//
// It provides:
//   - Message: one replayed chat comment with its timing, author and fragments.
//   - Pager: the forward-only page sequence a comment source hands out.
//   - Filter: the author allow-list and substring rule deciding which messages
//     are kept.
//   - Normalize: turns the offset and/or absolute timestamp the API populated
//     into a relative clock string or a zoned wall-clock time.
//
// Everything here is pure; no package function performs I/O.
package chat
