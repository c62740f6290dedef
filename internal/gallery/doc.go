// Package gallery implements the marketplace side of the pipeline: the
// paginated query protocol, the direct resource lookup, version
// resolution against compatibility criteria, and asset downloads with
// CDN fallback.
package gallery
