// Package plugin provides the built-in ingest stages and the registry that
// builds an ordered stage list from configuration.
//
// Stage types:
//
//	validator        veto on attribute validation failures
//	text-extraction  gather searchable text into ext.extracted.text
//	duplicate        veto creates seen recently, by content checksum
//	property         stamp request properties and the modified time
package plugin
