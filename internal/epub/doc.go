// Package epub assembles reading packages: EPUB 3 archives whose chapters are
// rendered from markdown and whose images are copied from disk.
package epub
