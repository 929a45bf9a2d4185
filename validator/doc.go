// Package validator checks attribute values.
//
// Checking algorithms are Checkers (geometry, pattern, range). A validator for
// a specific attribute is built by composition, ForAttribute(attr, checker),
// so the frame center and location validators share GeometryChecker instead
// of re-implementing it. Validators only report; they never modify records.
package validator
