// Package metadata inspects and carries image metadata across re-encodes.
//
// Re-encoding from decoded pixels drops every EXIF, XMP, ICC and PNG text
// block. Analyze counts the privacy-sensitive tags a source carried so the
// run report can say how many were removed. The Extract and Inject helpers
// copy selected JPEG segments or PNG chunks from the source into the newly
// encoded bytes when the caller asked to keep metadata.
package metadata
