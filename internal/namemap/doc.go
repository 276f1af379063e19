// Package namemap turns DICOM identifiers and free-text labels into path
// segments for the disc layout.
//
// Identifiers become fixed-width hex tokens that stay stable across runs and
// machines; display names become short ASCII strings used only where humans
// browse the disc.
package namemap
