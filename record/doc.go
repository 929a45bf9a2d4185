// Package record implements the schema-governed metadata record.
//
// A Schema is an immutable, ordered set of AttributeDefinitions loaded at
// runtime. Records are created empty from a Schema and enforce three rules on
// every mutation:
//
//   - the attribute must be defined (ErrUnknownAttribute, with a suggestion),
//   - each value's kind must equal the declared type (ErrTypeMismatch),
//   - single-valued attributes hold at most one value (ErrMultiplicityViolation
//     for Set, ErrAttributeConflict for Append unless the attribute is Overridable).
//
// Values are a tagged union over the declared ValueTypes and are immutable:
// binary and object payloads are copied in and out.
package record
