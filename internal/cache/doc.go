// Package cache defines the disk-backed store holding portage config trees
// keyed by content hash under ConfigCacheDir/<hash>. Trees arrive as tar
// payloads from build submissions and are extracted with safe semantics
// (temp directory + rename) so a half-written tree is never observable.
// The build executor depends on this package to resolve a config hash into
// an on-disk tree without duplicating filesystem logic.
package cache
