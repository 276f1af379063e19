// Package archive assembles finished staging roots into disc images and
// unpacks viewer bundles into a staging root.
//
// ISOBuilder writes plain ISO9660 images; file names are mapped onto the
// ISO d-character set by the image writer, so staged names are upper-cased
// on disc.
package archive
