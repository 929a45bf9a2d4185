// Package ingest defines ingest requests and the ordered stage chain that
// processes them before storage.
//
// Each Stage returns a three-way Result. Continue passes a request on, Veto
// halts the chain as an expected rejection (VetoError, classified invalid)
// and Fail halts it as a malfunction (PluginExecutionError, classified fatal).
// Stages receive clones, so changes made by a stage that then vetoes or
// fails never reach the caller.
package ingest
