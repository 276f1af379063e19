// Package imaging reads stored DICOM instances and produces the rasters used
// for series icons and derivative renditions.
//
// DICOMRenderer decodes one frame and maps it to 8 bits using the instance's
// rescale and window values. ReadHeader extracts identity attributes without
// touching pixel data. JPEGEncoder writes renditions.
package imaging
