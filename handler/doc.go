// Package handler turns a document's parse events into record attributes.
//
// A Delegate owns an ordered list of handler Factories. For each document it
// creates fresh Handlers, routes every event to the handlers interested in
// its kind together with the open element Path, and after DocumentEnd applies
// each handler's Contributions to the record in registration order. A failed
// transform leaves the record untouched and reports the originating handler
// through TransformError.
//
// Built-in handlers:
//
//	TextHandler       element text by path pattern
//	AttributeHandler  XML attribute values by element@attribute pattern
//	GMLHandler        GML geometries as WKT
//	MetadataHandler   the re-encoded document as one attribute
package handler
