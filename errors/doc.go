// Package errors provides standardized error handling for metaingest.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (the submitter's data is wrong, do not retry) and Fatal (an operator must
// act: a broken schema source, a malfunctioning plugin stage).
//
// # Ingest Taxonomy
//
// The sentinel errors map onto the ingest pipeline:
//
//	ErrSchema                                  schema source malformed or unreadable   (fatal)
//	ErrUnknownAttribute, ErrTypeMismatch,
//	ErrMultiplicityViolation, ErrAttributeConflict  record rejected                  (invalid)
//	ErrIncompleteDocument, ErrMalformedStructure,
//	ErrTransformFailure                        document rejected                       (invalid)
//	ErrVetoed                                  a stage declined the request             (invalid)
//	ErrPluginExecution                         a stage is broken                        (fatal)
//	ErrIngestTimeout                           caller deadline elapsed                  (transient)
//
// Packages return typed errors (record.AttributeError, ingest.VetoError,
// ingest.PluginExecutionError, ...) that wrap these sentinels, so callers can
// use errors.Is for the kind and errors.As for the origin.
//
// # Error Wrapping Pattern
//
// All wrapping follows "component.method: action failed: cause":
//
//	if err := sink.Store(ctx, req); err != nil {
//	    return errors.WrapTransient(err, "Pipeline", "Ingest", "store request")
//	}
//
// Wrapped classified errors keep the component and operation so Origin(err)
// can name where a failure started without re-running with extra logging.
package errors
