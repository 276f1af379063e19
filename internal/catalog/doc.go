// Package catalog turns a directory of DICOM files and an optional YAML
// manifest into the selection tree an export job consumes.
//
// A manifest looks like:
//
//	studies: [1.2.840.113619.2.1]
//	series:
//	  - uid: 1.2.840.113619.2.1.3
//	    save_annotations: true
//	instances: [1.2.840.113619.2.1.4.7]
//	attachments:
//	  - path: report.pdf
//	    series: 1.2.840.113619.2.1.3
//	annotations:
//	  - instance: 1.2.840.113619.2.1.3.2
//	    path: overlay.json
//
// Without a manifest, or with one that selects nothing, every instance is
// checked.
package catalog
